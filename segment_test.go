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

package sftool_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenSiFli/sftool"
)

// Splitting into chunks of size <= P and rejoining in order must yield the
// original bytes exactly, for any payload limit P >= 1.
func TestChunkRoundTrip(t *testing.T) {
	lengths := []int{1, 2, 7, 16, 255, 256, 4095, 4096, 4097}
	limits := []int{1, 3, 16, 256, 4096}

	for _, l := range lengths {
		data := make([]byte, l)
		for i := range data {
			data[i] = byte(i * 31)
		}
		seg := sftool.Segment{Address: 0x12020000, Data: data}

		for _, p := range limits {
			chunks := sftool.SplitChunks(seg, p)
			want := (l + p - 1) / p
			if len(chunks) != want {
				t.Fatalf("L=%d P=%d: got %d chunks, want %d", l, p, len(chunks), want)
			}
			next := seg.Address
			for i, c := range chunks {
				if len(c.Data) > p {
					t.Fatalf("L=%d P=%d: chunk %d has %d bytes", l, p, i, len(c.Data))
				}
				if c.Address != next {
					t.Fatalf("L=%d P=%d: chunk %d at 0x%08X, want 0x%08X", l, p, i, c.Address, next)
				}
				next += uint32(len(c.Data))
			}

			joined, err := sftool.JoinChunks(chunks)
			if err != nil {
				t.Fatalf("L=%d P=%d: JoinChunks failed: %v", l, p, err)
			}
			if joined.Address != seg.Address || !bytes.Equal(joined.Data, seg.Data) {
				t.Fatalf("L=%d P=%d: round trip diverged", l, p)
			}
		}
	}
}

func TestJoinChunksRejectsGaps(t *testing.T) {
	chunks := []sftool.Chunk{
		{Address: 0x12000000, Data: []byte{1, 2}},
		{Address: 0x12000003, Data: []byte{3}}, // one-byte hole
	}
	if _, err := sftool.JoinChunks(chunks); err == nil {
		t.Error("JoinChunks accepted discontiguous chunks")
	}
}

func TestValidateSegments(t *testing.T) {
	p, err := sftool.LookupProfile(sftool.ChipSF32LB52, sftool.MemoryNor)
	if err != nil {
		t.Fatal(err)
	}

	good := []sftool.Segment{
		{Address: 0x12000000, Data: make([]byte, 0x1000)},
		{Address: 0x12010000, Data: make([]byte, 0x2000)},
	}
	if err := sftool.ValidateSegments(p, good); err != nil {
		t.Errorf("valid segments rejected: %v", err)
	}

	if err := sftool.ValidateSegments(p, []sftool.Segment{{Address: 0x12000000}}); err == nil {
		t.Error("empty segment accepted")
	}

	outOfRange := []sftool.Segment{{Address: 0x22000000, Data: []byte{1}}}
	if err := sftool.ValidateSegments(p, outOfRange); !errors.Is(err, sftool.ErrAddressOutOfRange) {
		t.Errorf("out-of-range segment: got %v", err)
	}

	overlapping := []sftool.Segment{
		{Address: 0x12000000, Data: make([]byte, 0x1000)},
		{Address: 0x12000800, Data: make([]byte, 0x1000)},
	}
	var oe *sftool.OverlapError
	if err := sftool.ValidateSegments(p, overlapping); !errors.As(err, &oe) {
		t.Errorf("overlapping segments: got %v, want *OverlapError", err)
	}

	// Order of the input must not matter for overlap detection.
	if err := sftool.ValidateSegments(p, []sftool.Segment{overlapping[1], overlapping[0]}); !errors.As(err, &oe) {
		t.Errorf("overlap in reversed order: got %v", err)
	}
}
