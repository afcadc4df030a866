// Copyright 2025 The OpenSiFli Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sftool

import (
	"fmt"
	"sort"
)

// Segment is one contiguous region of flash: the unit produced by the file
// parsers for writes, and by chunk reassembly for reads.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the first address past the segment, in uint64 to avoid wrap.
func (s Segment) End() uint64 {
	return uint64(s.Address) + uint64(len(s.Data))
}

// Chunk is a slice of a Segment small enough for one frame payload.
type Chunk struct {
	Address uint32
	Data    []byte
}

// ValidateSegments rejects empty, out-of-range and overlapping segments
// before any transfer begins. Order of segs is the caller's and is not
// changed.
func ValidateSegments(p *ChipProfile, segs []Segment) error {
	for _, s := range segs {
		if len(s.Data) == 0 {
			return fmt.Errorf("empty segment at 0x%08X", s.Address)
		}
		if err := p.CheckRange(s.Address, uint32(len(s.Data))); err != nil {
			return err
		}
	}

	byAddr := make([]Segment, len(segs))
	copy(byAddr, segs)
	sort.Slice(byAddr, func(i, j int) bool { return byAddr[i].Address < byAddr[j].Address })
	for i := 1; i < len(byAddr); i++ {
		if byAddr[i-1].End() > uint64(byAddr[i].Address) {
			return &OverlapError{First: byAddr[i-1].Address, Second: byAddr[i].Address}
		}
	}
	return nil
}

// SplitChunks cuts a segment into address-ordered chunks of at most
// maxPayload bytes. The chunks alias the segment's backing array.
func SplitChunks(s Segment, maxPayload int) []Chunk {
	if maxPayload < 1 {
		panic("maxPayload must be positive")
	}
	chunks := make([]Chunk, 0, (len(s.Data)+maxPayload-1)/maxPayload)
	for off := 0; off < len(s.Data); off += maxPayload {
		end := off + maxPayload
		if end > len(s.Data) {
			end = len(s.Data)
		}
		chunks = append(chunks, Chunk{
			Address: s.Address + uint32(off),
			Data:    s.Data[off:end],
		})
	}
	return chunks
}

// JoinChunks is the exact inverse of SplitChunks: in-order concatenation
// back into one segment. Chunks must be contiguous.
func JoinChunks(chunks []Chunk) (Segment, error) {
	if len(chunks) == 0 {
		return Segment{}, fmt.Errorf("no chunks to join")
	}
	s := Segment{Address: chunks[0].Address}
	for _, c := range chunks {
		if uint64(c.Address) != s.End() {
			return Segment{}, fmt.Errorf("chunk at 0x%08X does not continue segment ending at 0x%08X",
				c.Address, s.End())
		}
		s.Data = append(s.Data, c.Data...)
	}
	return s, nil
}
