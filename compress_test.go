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

package sftool_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/OpenSiFli/sftool"
)

func TestCompressChunkRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("firmware padding block "), 200)

	packed := sftool.CompressChunk(data)
	if packed == nil {
		t.Fatal("repetitive data should compress")
	}
	if len(packed) >= len(data) {
		t.Fatalf("compressed %d bytes into %d", len(data), len(packed))
	}

	out, err := sftool.DecompressChunk(packed, len(data))
	if err != nil {
		t.Fatalf("DecompressChunk failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("round trip diverged")
	}
}

func TestCompressChunkSkipsIncompressible(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 1024)
	rng.Read(data)

	if packed := sftool.CompressChunk(data); packed != nil {
		t.Errorf("random data reported as compressible (%d -> %d bytes)", len(data), len(packed))
	}
}

func TestDecompressChunkRejectsWrongLength(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 512)
	packed := sftool.CompressChunk(data)
	if packed == nil {
		t.Fatal("constant data should compress")
	}

	if _, err := sftool.DecompressChunk(packed, len(data)+1); err == nil {
		t.Error("declared length longer than content accepted")
	}
	if _, err := sftool.DecompressChunk(packed, len(data)-1); err == nil {
		t.Error("declared length shorter than content accepted")
	}
	if _, err := sftool.DecompressChunk([]byte{0x00, 0x01, 0x02}, 8); err == nil {
		t.Error("garbage accepted as zlib stream")
	}
}
