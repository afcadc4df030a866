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

package programmer_test

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/OpenSiFli/sftool"
)

// chipSim emulates a bootloader behind the Transport interface: it decodes
// request frames, mutates a sparse flash image, and queues response frames.
// Reads never block, so tests run at full speed.
type chipSim struct {
	profile *sftool.ChipProfile

	inbuf  bytes.Buffer // bytes written by the programmer
	outbuf bytes.Buffer // response bytes waiting to be read

	flash map[uint32]byte

	// Per-opcode count of complete frames received.
	frames map[uint8]int
	// Opcode order of all received frames.
	order []uint8
	// Ranges erased, in protocol order.
	erased []sftool.AddressRange

	// mute drops every response: a chip that never answers.
	mute bool
	// dropNext swallows the next n responses to simulate a lossy link.
	dropNext int
	// forceStatus overrides the response status per opcode.
	forceStatus map[uint8]sftool.Status

	timeout time.Duration
	baud    int
	closed  bool
	pulses  int
}

func newChipSim(profile *sftool.ChipProfile) *chipSim {
	return &chipSim{
		profile:     profile,
		flash:       make(map[uint32]byte),
		frames:      make(map[uint8]int),
		forceStatus: make(map[uint8]sftool.Status),
	}
}

func (c *chipSim) Read(p []byte) (int, error) {
	n, _ := c.outbuf.Read(p)
	return n, nil
}

func (c *chipSim) Write(p []byte) (int, error) {
	c.inbuf.Write(p)
	c.dispatch()
	return len(p), nil
}

func (c *chipSim) Flush() error                    { c.outbuf.Reset(); return nil }
func (c *chipSim) Timeout() time.Duration          { return c.timeout }
func (c *chipSim) SetTimeout(d time.Duration)      { c.timeout = d }
func (c *chipSim) SetBaud(baud int) error          { c.baud = baud; return nil }
func (c *chipSim) SetControlLines(_, _ bool) error { c.pulses++; return nil }
func (c *chipSim) Close() error                    { c.closed = true; return nil }

// dispatch consumes every complete frame accumulated so far.
func (c *chipSim) dispatch() {
	for {
		buf := c.inbuf.Bytes()
		if len(buf) < 2 {
			return
		}
		length := int(binary.LittleEndian.Uint16(buf[0:2]))
		total := 2 + length + 4
		if len(buf) < total {
			return
		}
		raw := make([]byte, total)
		c.inbuf.Read(raw)

		frame, err := sftool.DecodeFrame(raw)
		if err != nil {
			continue // corrupt frame, chip stays silent
		}
		c.frames[frame.Opcode]++
		c.order = append(c.order, frame.Opcode)
		c.handle(frame)
	}
}

func (c *chipSim) handle(f *sftool.Frame) {
	ops := c.profile.Opcodes
	if status, ok := c.forceStatus[f.Opcode]; ok {
		c.respond(f.Opcode, status, nil)
		return
	}

	switch f.Opcode {
	case ops.Sync, ops.ChipID:
		c.respond(f.Opcode, sftool.StatusOK, []byte(c.profile.Identity))
	case ops.Write:
		addr := binary.LittleEndian.Uint32(f.Payload[0:4])
		c.store(addr, f.Payload[4:])
		c.respond(f.Opcode, sftool.StatusOK, nil)
	case ops.WriteComp:
		addr := binary.LittleEndian.Uint32(f.Payload[0:4])
		rawLen := binary.LittleEndian.Uint32(f.Payload[4:8])
		data, err := sftool.DecompressChunk(f.Payload[8:], int(rawLen))
		if err != nil {
			c.respond(f.Opcode, sftool.StatusBadCrc, nil)
			return
		}
		c.store(addr, data)
		c.respond(f.Opcode, sftool.StatusOK, nil)
	case ops.Read:
		addr := binary.LittleEndian.Uint32(f.Payload[0:4])
		size := binary.LittleEndian.Uint32(f.Payload[4:8])
		data := make([]byte, size)
		for i := range data {
			if b, ok := c.flash[addr+uint32(i)]; ok {
				data[i] = b
			} else {
				data[i] = 0xFF // erased state
			}
		}
		c.respond(f.Opcode, sftool.StatusOK, data)
	case ops.Erase:
		addr := binary.LittleEndian.Uint32(f.Payload[0:4])
		size := binary.LittleEndian.Uint32(f.Payload[4:8])
		c.erase(sftool.AddressRange{Start: addr, End: addr + size})
		c.respond(f.Opcode, sftool.StatusOK, nil)
	case ops.EraseAll:
		addr := binary.LittleEndian.Uint32(f.Payload[0:4])
		if region, ok := c.profile.RegionContaining(addr); ok {
			c.erase(region)
		}
		c.respond(f.Opcode, sftool.StatusOK, nil)
	case ops.SetBaud:
		c.respond(f.Opcode, sftool.StatusOK, nil)
	case ops.Reset:
		// Chip reboots; no response.
	default:
		c.respond(f.Opcode, sftool.StatusFail, nil)
	}
}

func (c *chipSim) respond(opcode uint8, status sftool.Status, payload []byte) {
	if c.mute {
		return
	}
	if c.dropNext > 0 {
		c.dropNext--
		return
	}
	body := append([]byte{byte(status)}, payload...)
	c.outbuf.Write(sftool.EncodeFrame(opcode, body))
}

func (c *chipSim) store(addr uint32, data []byte) {
	for i, b := range data {
		c.flash[addr+uint32(i)] = b
	}
}

func (c *chipSim) erase(r sftool.AddressRange) {
	c.erased = append(c.erased, r)
	for addr := range c.flash {
		if addr >= r.Start && addr < r.End {
			delete(c.flash, addr)
		}
	}
}

// flashBytes reads back the simulated flash contents.
func (c *chipSim) flashBytes(addr, size uint32) []byte {
	out := make([]byte, size)
	for i := range out {
		if b, ok := c.flash[addr+uint32(i)]; ok {
			out[i] = b
		} else {
			out[i] = 0xFF
		}
	}
	return out
}
