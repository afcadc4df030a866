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

package sftool

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// CompressChunk compresses one chunk for a compressed-write frame. Chunks
// are compressed independently so each frame stays independently retryable.
// Returns nil when compression would not shrink the chunk; the caller then
// uses the uncompressed path unconditionally.
func CompressChunk(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	if buf.Len() >= len(data) {
		return nil
	}
	return buf.Bytes()
}

// DecompressChunk inverts CompressChunk. rawLen is the expected decompressed
// size carried in the frame; a mismatch is corruption.
func DecompressChunk(data []byte, rawLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: bad zlib header: %v", ErrMalformedFrame, err)
	}
	defer r.Close()
	out := make([]byte, rawLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: compressed chunk truncated: %v", ErrMalformedFrame, err)
	}
	// Anything beyond rawLen means the frame lied about the raw size.
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("%w: compressed chunk longer than declared", ErrMalformedFrame)
	}
	return out, nil
}
