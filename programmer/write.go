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

package programmer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/OpenSiFli/sftool"

	"github.com/golang/glog"
)

// WriteOptions selects the optional phases of a flash write.
type WriteOptions struct {
	// Read each segment back and compare against the source bytes.
	Verify bool
	// Erase the full flash region(s) touched by the segments first.
	EraseAll bool
	// Force the uncompressed path even if the profile supports compression.
	NoCompress bool
}

// writeStep is one planned frame of a write operation.
type writeStep struct {
	opcode  uint8
	payload []byte
	// Source bytes this step commits, for progress accounting. Zero for
	// erase prefix steps.
	rawLen int
}

// writePlan is the immutable frame sequence for one WriteFlash call,
// computed before any I/O.
type writePlan struct {
	steps []writeStep
	total int
}

// WriteFlash writes the given segments. The whole operation is planned
// up front: validation failures cost no transport I/O.
func (p *Programmer) WriteFlash(ctx context.Context, segs []sftool.Segment, opts WriteOptions) error {
	plan, err := p.planWrite(segs, opts)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	done := 0
	for i, step := range plan.steps {
		if err := cancelled(ctx); err != nil {
			return fmt.Errorf("write: %w (committed %d of %d bytes)", err, done, plan.total)
		}
		timeout := p.frameTimeout
		if step.opcode == p.profile.Opcodes.EraseAll {
			timeout = eraseTimeout
		}
		if err := p.expectOK(ctx, step.opcode, step.payload, timeout); err != nil {
			return fmt.Errorf("write: frame %d of %d: %w (committed %d of %d bytes)",
				i+1, len(plan.steps), err, done, plan.total)
		}
		done += step.rawLen
		p.reportProgress("write", done, plan.total)
	}

	if opts.Verify {
		if err := p.verify(ctx, segs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Programmer) planWrite(segs []sftool.Segment, opts WriteOptions) (*writePlan, error) {
	if err := sftool.ValidateSegments(p.profile, segs); err != nil {
		return nil, err
	}

	plan := &writePlan{}

	if opts.EraseAll {
		// One full-region erase per distinct window, not one per segment.
		seen := make(map[sftool.AddressRange]bool)
		for _, s := range segs {
			region, ok := p.profile.RegionContaining(s.Address)
			if !ok || seen[region] {
				continue
			}
			seen[region] = true
			payload := make([]byte, 4)
			putUint32(payload, region.Start)
			plan.steps = append(plan.steps, writeStep{opcode: p.profile.Opcodes.EraseAll, payload: payload})
		}
	}

	compress := p.profile.Compression && !opts.NoCompress && !p.opts.NoCompress
	for _, s := range segs {
		for _, c := range sftool.SplitChunks(s, p.profile.MaxPayload) {
			plan.steps = append(plan.steps, p.planChunk(c, compress))
			plan.total += len(c.Data)
		}
	}
	return plan, nil
}

// planChunk builds one write frame, choosing the compressed opcode when it
// pays off. The chip selects its decompression path by opcode.
func (p *Programmer) planChunk(c sftool.Chunk, compress bool) writeStep {
	if compress {
		if packed := sftool.CompressChunk(c.Data); packed != nil {
			payload := make([]byte, 8+len(packed))
			putUint32(payload[0:4], c.Address)
			putUint32(payload[4:8], uint32(len(c.Data)))
			copy(payload[8:], packed)
			return writeStep{opcode: p.profile.Opcodes.WriteComp, payload: payload, rawLen: len(c.Data)}
		}
	}
	payload := make([]byte, 4+len(c.Data))
	putUint32(payload[0:4], c.Address)
	copy(payload[4:], c.Data)
	return writeStep{opcode: p.profile.Opcodes.Write, payload: payload, rawLen: len(c.Data)}
}

// verify reads every segment back and compares host-side.
func (p *Programmer) verify(ctx context.Context, segs []sftool.Segment) error {
	for _, s := range segs {
		glog.V(1).Infof("Verifying 0x%08X+0x%X", s.Address, len(s.Data))
		got, err := p.ReadFlash(ctx, s.Address, uint32(len(s.Data)))
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if !bytes.Equal(got, s.Data) {
			return fmt.Errorf("verify: %w at 0x%08X", sftool.ErrVerifyMismatch, s.Address+uint32(firstDiff(got, s.Data)))
		}
	}
	return nil
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return 0
}

// eraseTimeout bounds full-region erases, which take far longer than any
// other exchange.
const eraseTimeout = 30 * time.Second
