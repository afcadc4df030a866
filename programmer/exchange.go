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
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/OpenSiFli/sftool"

	"github.com/golang/glog"
)

// Compat mode throttles outbound data into small slices with a settle gap,
// for bootloaders that overrun on sustained writes.
const (
	compatSliceSize = 256
	compatSliceGap  = 10 * time.Millisecond
)

// exchange sends one frame and waits for its response, retrying the same
// frame on transient failures up to the per-exchange retry limit. A
// chip-reported error status is surfaced immediately: a deterministic
// rejection will not change on resend.
func (p *Programmer) exchange(ctx context.Context, opcode uint8, payload []byte, timeout time.Duration) (*sftool.Response, error) {
	frame := sftool.EncodeFrame(opcode, payload)
	if p.opts.Compat {
		timeout *= 4
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.RetryLimit; attempt++ {
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		if attempt > 1 {
			glog.V(1).Infof("Retrying command 0x%02X (attempt %d of %d): %v",
				opcode, attempt, p.opts.RetryLimit, lastErr)
			if err := p.t.Flush(); err != nil {
				return nil, fmt.Errorf("flush before retry failed: %w", err)
			}
		}

		if err := p.send(frame); err != nil {
			return nil, err
		}

		p.t.SetTimeout(timeout)
		resp, err := sftool.ReadResponse(p.t)
		if err != nil {
			if sftool.IsTransient(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		if resp.Opcode != opcode {
			// Stale frame from an earlier exchange; worth one more try.
			lastErr = fmt.Errorf("%w: response opcode 0x%02X for request 0x%02X",
				sftool.ErrMalformedFrame, resp.Opcode, opcode)
			continue
		}
		if err := resp.Err(); err != nil {
			return resp, err
		}
		return resp, nil
	}
	return nil, fmt.Errorf("command 0x%02X failed after %d attempts: %w", opcode, p.opts.RetryLimit, lastErr)
}

// expectOK runs an exchange whose response carries no payload of interest.
func (p *Programmer) expectOK(ctx context.Context, opcode uint8, payload []byte, timeout time.Duration) error {
	_, err := p.exchange(ctx, opcode, payload, timeout)
	return err
}

func (p *Programmer) send(frame []byte) error {
	if !p.opts.Compat {
		if _, err := p.t.Write(frame); err != nil {
			return err
		}
		return nil
	}
	for off := 0; off < len(frame); off += compatSliceSize {
		end := off + compatSliceSize
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := p.t.Write(frame[off:end]); err != nil {
			return err
		}
		time.Sleep(compatSliceGap)
	}
	return nil
}

// IsProtocolError reports whether err is a chip-side rejection rather than
// a link failure.
func IsProtocolError(err error) bool {
	var se *sftool.StatusError
	return errors.As(err, &se)
}

func putUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}
