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
	"context"
	"errors"
	"testing"

	"github.com/OpenSiFli/sftool"
	"github.com/OpenSiFli/sftool/programmer"
)

func TestEraseFlashErasesContainingWindow(t *testing.T) {
	profile := mustProfile(t, sftool.ChipSF32LB52, sftool.MemoryNor)
	prog, sim := newSession(t, profile, programmer.Options{ConnectAttempts: 1})
	defer prog.Close()
	sim.store(0x12345678, []byte{0xAA})

	if err := prog.EraseFlash(context.Background(), 0x12345678); err != nil {
		t.Fatalf("EraseFlash failed: %v", err)
	}
	if sim.frames[profile.Opcodes.EraseAll] != 1 {
		t.Errorf("erase frames: got %d, want 1", sim.frames[profile.Opcodes.EraseAll])
	}
	want := sftool.AddressRange{Start: 0x10000000, End: 0x20000000}
	if len(sim.erased) != 1 || sim.erased[0] != want {
		t.Errorf("erased %v, want [%v]", sim.erased, want)
	}
	if b, ok := sim.flash[0x12345678]; ok {
		t.Errorf("byte at 0x12345678 survived the erase: 0x%02X", b)
	}
}

func TestEraseFlashOutsideAnyWindow(t *testing.T) {
	profile := mustProfile(t, sftool.ChipSF32LB52, sftool.MemoryNor)
	prog, sim := newSession(t, profile, programmer.Options{ConnectAttempts: 1})
	defer prog.Close()
	baseline := len(sim.order)

	if err := prog.EraseFlash(context.Background(), 0x40000000); !errors.Is(err, sftool.ErrAddressOutOfRange) {
		t.Errorf("got %v, want ErrAddressOutOfRange", err)
	}
	if len(sim.order) != baseline {
		t.Error("rejected erase still reached the chip")
	}
}

func TestEraseRegionPreservesOrder(t *testing.T) {
	profile := mustProfile(t, sftool.ChipSF32LB52, sftool.MemoryNor)
	prog, sim := newSession(t, profile, programmer.Options{ConnectAttempts: 1})
	defer prog.Close()

	regions := []programmer.Region{
		{Address: 0x12000000, Size: 0x1000},
		{Address: 0x12010000, Size: 0x2000},
	}
	erased, err := prog.EraseRegion(context.Background(), regions)
	if err != nil {
		t.Fatalf("EraseRegion failed: %v", err)
	}

	want := []sftool.AddressRange{
		{Start: 0x12000000, End: 0x12001000},
		{Start: 0x12010000, End: 0x12012000},
	}
	if len(erased) != len(want) {
		t.Fatalf("erased %d ranges, want %d", len(erased), len(want))
	}
	for i := range want {
		if erased[i] != want[i] {
			t.Errorf("range %d: got %v, want %v", i, erased[i], want[i])
		}
		if sim.erased[i] != want[i] {
			t.Errorf("chip erased %v at step %d, want %v", sim.erased[i], i, want[i])
		}
	}
	if sim.frames[profile.Opcodes.Erase] != 2 {
		t.Errorf("erase frames: got %d, want 2", sim.frames[profile.Opcodes.Erase])
	}
}

func TestEraseRegionRoundsOutward(t *testing.T) {
	profile := mustProfile(t, sftool.ChipSF32LB52, sftool.MemoryNor)
	prog, _ := newSession(t, profile, programmer.Options{ConnectAttempts: 1})
	defer prog.Close()

	erased, err := prog.EraseRegion(context.Background(), []programmer.Region{
		{Address: 0x12000800, Size: 0x100},
	})
	if err != nil {
		t.Fatalf("EraseRegion failed: %v", err)
	}
	want := sftool.AddressRange{Start: 0x12000000, End: 0x12001000}
	if len(erased) != 1 || erased[0] != want {
		t.Errorf("erased %v, want [%v]", erased, want)
	}
}

func TestEraseRegionValidatesAllBeforeFirstFrame(t *testing.T) {
	profile := mustProfile(t, sftool.ChipSF32LB52, sftool.MemoryNor)
	prog, sim := newSession(t, profile, programmer.Options{ConnectAttempts: 1})
	defer prog.Close()
	baseline := len(sim.order)

	regions := []programmer.Region{
		{Address: 0x12000000, Size: 0x1000}, // fine on its own
		{Address: 0x30000000, Size: 0x1000}, // out of range
	}
	if _, err := prog.EraseRegion(context.Background(), regions); !errors.Is(err, sftool.ErrAddressOutOfRange) {
		t.Errorf("got %v, want ErrAddressOutOfRange", err)
	}
	if len(sim.order) != baseline {
		t.Errorf("partially validated batch still reached the chip: %v", sim.order[baseline:])
	}

	if _, err := prog.EraseRegion(context.Background(), []programmer.Region{{Address: 0x12000000}}); err == nil {
		t.Error("zero-size region accepted")
	}
}
