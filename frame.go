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

// Wire frame codec for the SiFli UART bootloader protocol.
//
// Every frame, in either direction, is
//
//	length:uint16 | opcode:uint8 | payload | crc:uint32
//
// with little-endian integers. length counts the opcode byte plus the
// payload; crc is CRC-32 (IEEE) over opcode and payload. Responses carry a
// status code as the first payload byte.
package sftool

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	frameLenSize = 2
	frameCrcSize = 4

	// MaxFramePayload bounds a single frame on the wire. Profiles keep
	// their MaxPayload well below this; the decoder rejects anything
	// larger as malformed rather than allocating unbounded buffers.
	MaxFramePayload = 256 * 1024
)

// Frame is one decoded host->chip request.
type Frame struct {
	Opcode  uint8
	Payload []byte
}

// Status is the chip-reported result code carried in every response.
type Status uint8

const (
	StatusOK          Status = 0x00
	StatusFail        Status = 0x01
	StatusBadAddress  Status = 0x02
	StatusEraseFailed Status = 0x03
	StatusWriteFailed Status = 0x04
	StatusBadCrc      Status = 0x05
	StatusBusy        Status = 0x06
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFail:
		return "operation failed"
	case StatusBadAddress:
		return "bad address"
	case StatusEraseFailed:
		return "erase failed"
	case StatusWriteFailed:
		return "write failed"
	case StatusBadCrc:
		return "data CRC rejected"
	case StatusBusy:
		return "chip busy"
	default:
		return fmt.Sprintf("unknown status 0x%02X", uint8(s))
	}
}

// Response is one decoded chip->host reply.
type Response struct {
	Opcode  uint8
	Status  Status
	Payload []byte
}

// Err returns nil for StatusOK and a *StatusError otherwise.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &StatusError{Opcode: r.Opcode, Status: r.Status}
}

// EncodeFrame builds the wire form of one request.
func EncodeFrame(opcode uint8, payload []byte) []byte {
	buf := make([]byte, frameLenSize+1+len(payload)+frameCrcSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(1+len(payload)))
	buf[2] = opcode
	copy(buf[3:], payload)

	crc := crc32.NewIEEE()
	crc.Write(buf[2 : 3+len(payload)])
	binary.LittleEndian.PutUint32(buf[3+len(payload):], crc.Sum32())
	return buf
}

// DecodeFrame parses one complete request frame. Corrupt input yields
// ErrMalformedFrame or ErrChecksumMismatch, never a silently wrong Frame.
func DecodeFrame(buf []byte) (*Frame, error) {
	opcode, body, err := decodeEnvelope(buf)
	if err != nil {
		return nil, err
	}
	return &Frame{Opcode: opcode, Payload: body}, nil
}

// DecodeResponse parses one complete response frame. A response must carry
// at least the status byte.
func DecodeResponse(buf []byte) (*Response, error) {
	opcode, body, err := decodeEnvelope(buf)
	if err != nil {
		return nil, err
	}
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: response without status byte", ErrMalformedFrame)
	}
	return &Response{Opcode: opcode, Status: Status(body[0]), Payload: body[1:]}, nil
}

func decodeEnvelope(buf []byte) (opcode uint8, body []byte, err error) {
	if len(buf) < frameLenSize+1+frameCrcSize {
		return 0, nil, fmt.Errorf("%w: %d bytes is shorter than the smallest frame", ErrMalformedFrame, len(buf))
	}
	length := int(binary.LittleEndian.Uint16(buf[0:2]))
	if length < 1 {
		return 0, nil, fmt.Errorf("%w: zero-length frame", ErrMalformedFrame)
	}
	if len(buf) != frameLenSize+length+frameCrcSize {
		return 0, nil, fmt.Errorf("%w: length field says %d, frame has %d content bytes",
			ErrMalformedFrame, length, len(buf)-frameLenSize-frameCrcSize)
	}

	content := buf[frameLenSize : frameLenSize+length]
	want := binary.LittleEndian.Uint32(buf[frameLenSize+length:])
	if got := crc32.ChecksumIEEE(content); got != want {
		return 0, nil, fmt.Errorf("%w: computed 0x%08X, frame carries 0x%08X", ErrChecksumMismatch, got, want)
	}
	return content[0], content[1:], nil
}

// ReadResponse reads exactly one response frame from t, bounded by the
// transport's read timeout. A short read maps to ErrTimeout so the retry
// policy can distinguish a silent chip from a broken port.
func ReadResponse(t Transport) (*Response, error) {
	header := make([]byte, frameLenSize)
	if err := readFull(t, header); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(header))
	if length < 1 || length > MaxFramePayload {
		return nil, fmt.Errorf("%w: implausible length %d", ErrMalformedFrame, length)
	}

	rest := make([]byte, length+frameCrcSize)
	if err := readFull(t, rest); err != nil {
		return nil, err
	}
	return DecodeResponse(append(header, rest...))
}

// readFull fills p from the transport. The Transport read contract is
// "fill as much as possible until the timeout, short count means timeout",
// so a single call suffices.
func readFull(t Transport, p []byte) error {
	n, err := t.Read(p)
	if err != nil {
		return fmt.Errorf("transport read failed: %w", err)
	}
	if n < len(p) {
		return fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, n, len(p))
	}
	return nil
}
