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

// Error taxonomy shared by the codec, the dispatcher and the retry policy.
package sftool

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout: no (complete) response arrived within the read timeout.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrChecksumMismatch: a frame arrived but its CRC does not cover its content.
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	// ErrMalformedFrame: a frame violates the length/envelope rules.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrAddressOutOfRange: a request falls outside the profile's flash windows.
	ErrAddressOutOfRange = errors.New("address out of range")
	// ErrVerifyMismatch: read-back bytes diverge from the source image.
	ErrVerifyMismatch = errors.New("flash verification mismatch")
)

// StatusError carries an explicit error status reported by the chip.
// It is never retried: resending an identical frame will not change a
// deterministic chip-side rejection.
type StatusError struct {
	Opcode uint8
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chip rejected command 0x%02X: %v", e.Opcode, e.Status)
}

// UnsupportedChipError reports a (chip, memory) pair absent from the
// capability table. It is a configuration error, raised before any
// connection attempt.
type UnsupportedChipError struct {
	Chip   ChipType
	Memory MemoryType
}

func (e *UnsupportedChipError) Error() string {
	return fmt.Sprintf("unsupported chip/memory combination: %s/%s", e.Chip, e.Memory)
}

// OverlapError reports two input segments claiming the same flash bytes.
type OverlapError struct {
	First  uint32
	Second uint32
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("segments at 0x%08X and 0x%08X overlap", e.First, e.Second)
}

// IsTransient reports whether err is worth retrying with the same frame:
// the link hiccuped, but nothing suggests the chip rejected the request.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrMalformedFrame)
}
