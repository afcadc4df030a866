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
	"context"
	"fmt"

	"github.com/OpenSiFli/sftool"
)

// ReadFlash reads size bytes starting at addr, in profile-sized chunks,
// concatenated in request order.
func (p *Programmer) ReadFlash(ctx context.Context, addr, size uint32) ([]byte, error) {
	if err := p.profile.CheckRange(addr, size); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	out := make([]byte, 0, size)
	remaining := size
	current := addr
	for remaining > 0 {
		if err := cancelled(ctx); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		chunk := remaining
		if chunk > uint32(p.profile.MaxPayload) {
			chunk = uint32(p.profile.MaxPayload)
		}

		data, err := p.readChunk(ctx, current, chunk)
		if err != nil {
			return nil, fmt.Errorf("read: at 0x%08X: %w", current, err)
		}
		out = append(out, data...)
		current += chunk
		remaining -= chunk
		p.reportProgress("read", len(out), int(size))
	}
	return out, nil
}

func (p *Programmer) readChunk(ctx context.Context, addr, size uint32) ([]byte, error) {
	payload := make([]byte, 8)
	putUint32(payload[0:4], addr)
	putUint32(payload[4:8], size)

	resp, err := p.exchange(ctx, p.profile.Opcodes.Read, payload, p.frameTimeout)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) != int(size) {
		return nil, fmt.Errorf("%w: asked for %d bytes, chip sent %d",
			sftool.ErrMalformedFrame, size, len(resp.Payload))
	}
	return resp.Payload, nil
}
