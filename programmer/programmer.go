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

// Package programmer drives the SiFli UART bootloader protocol: it owns the
// transport for the lifetime of one session, brings the chip into a
// responsive state, and turns logical write/read/erase operations into
// framed exchanges.
package programmer

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenSiFli/sftool"

	"github.com/golang/glog"
)

// ResetMode selects the line-level action run before connecting and after
// the session completes.
type ResetMode string

const (
	NoReset      ResetMode = "no_reset"
	SoftReset    ResetMode = "soft_reset"
	DefaultReset ResetMode = "default_reset"
)

// DefaultConnectBaud is the rate the bootloader listens at; a different
// working baud is negotiated after sync.
const DefaultConnectBaud = 1000000

// ProgressFunc receives byte-count progress for long transfers. It must not
// block; it is called between frame exchanges and never alters control flow.
type ProgressFunc func(phase string, done, total int)

// Options configures one session.
type Options struct {
	// Number of handshake attempts. Zero or negative means unlimited:
	// the sync loop then only terminates on success or cancellation.
	ConnectAttempts int
	// Compat trades speed for tolerance of slow or noisy links: longer
	// per-frame timeouts and throttled outbound writes.
	Compat bool
	// Line-level actions around the session.
	Before ResetMode
	After  ResetMode
	// Working baud rate negotiated after sync. Zero keeps the connect baud.
	Baud int
	// Per-exchange retry limit for transient failures. Zero means the
	// default of 3 attempts.
	RetryLimit int
	// Disables the compressed-write path even when the profile supports it.
	NoCompress bool
	// Optional progress side channel.
	Progress ProgressFunc
}

const defaultRetryLimit = 3

// Programmer is one session against one chip. It is not safe for concurrent
// use: the protocol is strictly half-duplex, one exchange in flight at a
// time.
type Programmer struct {
	t       sftool.Transport
	profile *sftool.ChipProfile
	opts    Options

	frameTimeout time.Duration
	synced       bool
}

// New takes ownership of t, runs the "before" reset action and the sync
// state machine, and returns a connected session. On failure t is closed.
func New(ctx context.Context, t sftool.Transport, profile *sftool.ChipProfile, opts Options) (*Programmer, error) {
	if opts.Before == "" {
		opts.Before = DefaultReset
	}
	if opts.After == "" {
		opts.After = SoftReset
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = defaultRetryLimit
	}

	p := &Programmer{t: t, profile: profile, opts: opts, frameTimeout: 4 * time.Second}
	if opts.Compat {
		p.frameTimeout *= 4
	}

	if err := p.connect(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return p, nil
}

// Profile returns the active chip profile.
func (p *Programmer) Profile() *sftool.ChipProfile {
	return p.profile
}

// Close runs the "after" reset action and releases the transport.
func (p *Programmer) Close() error {
	if p.synced {
		switch p.opts.After {
		case SoftReset:
			// Fire and forget: the chip reboots and will not answer.
			glog.V(1).Info("Sending soft reset")
			if _, err := p.t.Write(sftool.EncodeFrame(p.profile.Opcodes.Reset, nil)); err != nil {
				glog.Warningf("Soft reset failed: %v", err)
			}
		case DefaultReset:
			glog.V(1).Info("Pulsing reset line")
			if err := p.pulseReset(); err != nil {
				glog.Warningf("Reset pulse failed: %v", err)
			}
		}
	}
	return p.t.Close()
}

func (p *Programmer) pulseReset() error {
	if err := p.t.SetControlLines(true, false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.t.SetControlLines(false, false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

func (p *Programmer) reportProgress(phase string, done, total int) {
	if p.opts.Progress != nil {
		p.opts.Progress(phase, done, total)
	}
}

func cancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
