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

// syncState is the pre-connection state machine. Idle applies the "before"
// action, Syncing probes until the attempt budget runs out, Synced records
// identity and negotiates the working baud.
type syncState int

const (
	stateIdle syncState = iota
	stateResetAsserted
	stateWaitBootloaderReady
	stateSyncing
	stateSynced
	stateFailed
)

// Delay between the reset deassert and the first probe: the chip needs its
// boot ROM window to come up.
const bootWindowDelay = 100 * time.Millisecond

// connect drives Idle -> ... -> Synced. With ConnectAttempts = N > 0 it
// makes exactly N probe attempts before failing; with N <= 0 it probes until
// success or ctx cancellation.
func (p *Programmer) connect(ctx context.Context) error {
	probeTimeout := 1 * time.Second
	if p.opts.Compat {
		probeTimeout = 4 * time.Second
	}

	unlimited := p.opts.ConnectAttempts <= 0
	remaining := p.opts.ConnectAttempts
	attempts := 0

	state := stateIdle
	for {
		if err := cancelled(ctx); err != nil {
			return err
		}

		switch state {
		case stateIdle:
			switch p.opts.Before {
			case DefaultReset:
				state = stateResetAsserted
			case SoftReset:
				// Chip is assumed responsive: ask it to reboot into
				// the bootloader, then wait out the reboot window.
				glog.V(1).Info("Requesting soft reset before connect")
				if _, err := p.t.Write(sftool.EncodeFrame(p.profile.Opcodes.Reset, nil)); err != nil {
					return fmt.Errorf("soft reset request failed: %w", err)
				}
				state = stateWaitBootloaderReady
			default:
				state = stateSyncing
			}

		case stateResetAsserted:
			if err := p.pulseReset(); err != nil {
				return fmt.Errorf("reset sequence failed: %w", err)
			}
			state = stateWaitBootloaderReady

		case stateWaitBootloaderReady:
			time.Sleep(bootWindowDelay)
			if err := p.t.Flush(); err != nil {
				return fmt.Errorf("flushing boot noise failed: %w", err)
			}
			state = stateSyncing

		case stateSyncing:
			attempts++
			resp, err := p.probe(probeTimeout)
			if err == nil {
				p.checkIdentity(resp)
				state = stateSynced
				continue
			}
			if !sftool.IsTransient(err) {
				return err
			}
			glog.Warningf("Sync attempt %d failed: %v", attempts, err)
			if !unlimited {
				remaining--
				if remaining <= 0 {
					state = stateFailed
					continue
				}
			}
			time.Sleep(bootWindowDelay)

		case stateSynced:
			p.synced = true
			glog.V(1).Infof("Synced with %s after %d attempt(s)", p.profile.Chip, attempts)
			if p.opts.Baud != 0 && p.opts.Baud != DefaultConnectBaud {
				if err := p.negotiateBaud(p.opts.Baud, probeTimeout); err != nil {
					return err
				}
			}
			return nil

		case stateFailed:
			return fmt.Errorf("%w: no sync response after %d attempt(s)", sftool.ErrTimeout, attempts)
		}
	}
}

// probe sends one sync frame and waits for a valid response.
func (p *Programmer) probe(timeout time.Duration) (*sftool.Response, error) {
	if err := p.t.Flush(); err != nil {
		return nil, fmt.Errorf("flush before probe failed: %w", err)
	}
	if _, err := p.t.Write(sftool.EncodeFrame(p.profile.Opcodes.Sync, nil)); err != nil {
		return nil, fmt.Errorf("probe write failed: %w", err)
	}

	p.t.SetTimeout(timeout)
	resp, err := sftool.ReadResponse(p.t)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// checkIdentity compares the chip-reported identity against the profile.
// A mismatch is a soft warning: the user may know better than the table.
func (p *Programmer) checkIdentity(resp *sftool.Response) {
	id := string(bytes.TrimRight(resp.Payload, "\x00"))
	if id == "" {
		glog.V(1).Info("Chip reported no identity")
		return
	}
	if id != p.profile.Identity {
		glog.Warningf("Chip reports identity %q, profile expects %q", id, p.profile.Identity)
		return
	}
	glog.V(1).Infof("Chip identity: %s", id)
}

// negotiateBaud asks the chip to switch rates, follows it locally, and
// re-probes to confirm the link survived.
func (p *Programmer) negotiateBaud(baud int, probeTimeout time.Duration) error {
	glog.V(1).Infof("Negotiating %d baud", baud)
	payload := make([]byte, 8)
	putUint32(payload[0:4], uint32(baud))
	putUint32(payload[4:8], 10) // ms the chip waits before switching
	if _, err := p.t.Write(sftool.EncodeFrame(p.profile.Opcodes.SetBaud, payload)); err != nil {
		return fmt.Errorf("baud change request failed: %w", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := p.t.SetBaud(baud); err != nil {
		return err
	}
	if _, err := p.probe(probeTimeout); err != nil {
		return fmt.Errorf("link lost after baud change to %d: %w", baud, err)
	}
	return nil
}
