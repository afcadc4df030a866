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

// Serial transport interface.
package sftool

import (
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
)

//go:generate mockgen -destination=mocks/transport.go -package=mocks github.com/OpenSiFli/sftool Transport

// Transport is the byte-oriented duplex channel the protocol engine runs
// over. Read fills p with whatever arrives before the read timeout elapses;
// a short count with a nil error means the timeout expired, while a non-nil
// error means the port itself failed. The distinction matters: the first is
// transient, the second is fatal.
type Transport interface {
	io.Reader
	io.Writer
	// Clears any pending data from the read buffer.
	Flush() error
	// Gets/Sets the Read timeout.
	Timeout() time.Duration
	SetTimeout(timeout time.Duration)
	// Switches the line rate. Pending buffers are dropped.
	SetBaud(baud int) error
	// Drives the chip reset and boot-select lines (RTS and DTR).
	SetControlLines(reset, boot bool) error
	Close() error
}

var defaultTimeout = 750 * time.Millisecond

// pollInterval bounds a single blocking read on the underlying port so the
// accumulate loop can honor the logical timeout.
const pollInterval = 20 * time.Millisecond

// SerialTransport implements Transport on a local serial port.
type SerialTransport struct {
	port    serial.Port
	name    string
	timeout time.Duration
}

// OpenSerial opens the named port at the given baud rate, 8N1.
func OpenSerial(name string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s failed: %w", name, err)
	}
	if err = port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout on %s failed: %w", name, err)
	}
	glog.V(1).Infof("Opened %s at %d baud", name, baud)
	return &SerialTransport{port: port, name: name, timeout: defaultTimeout}, nil
}

func (s *SerialTransport) Read(p []byte) (n int, err error) {
	deadline := time.Now().Add(s.timeout)
	for n < len(p) {
		if !time.Now().Before(deadline) {
			return n, nil
		}
		var got int
		if got, err = s.port.Read(p[n:]); err != nil {
			return n, fmt.Errorf("read on %s failed: %w", s.name, err)
		}
		n += got
	}
	return n, nil
}

func (s *SerialTransport) Write(p []byte) (n int, err error) {
	if n, err = s.port.Write(p); err != nil {
		return n, fmt.Errorf("write on %s failed: %w", s.name, err)
	}
	return n, nil
}

func (s *SerialTransport) Flush() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush on %s failed: %w", s.name, err)
	}
	return nil
}

func (s *SerialTransport) Timeout() time.Duration {
	return s.timeout
}

func (s *SerialTransport) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

func (s *SerialTransport) SetBaud(baud int) error {
	glog.V(1).Infof("Switching %s to %d baud", s.name, baud)
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if err := s.port.SetMode(mode); err != nil {
		return fmt.Errorf("setting baud on %s failed: %w", s.name, err)
	}
	return s.Flush()
}

func (s *SerialTransport) SetControlLines(reset, boot bool) error {
	if err := s.port.SetRTS(reset); err != nil {
		return fmt.Errorf("setting RTS on %s failed: %w", s.name, err)
	}
	if err := s.port.SetDTR(boot); err != nil {
		return fmt.Errorf("setting DTR on %s failed: %w", s.name, err)
	}
	return nil
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}
