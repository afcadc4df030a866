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

// Chip capability table. Per-(chip, memory) protocol constants live here as
// data so the dispatcher stays chip-agnostic; adding a variant means adding
// a table entry, not new control flow.
package sftool

import "fmt"

type ChipType string

const (
	ChipSF32LB52 ChipType = "sf32lb52"
	ChipSF32LB55 ChipType = "sf32lb55"
	ChipSF32LB56 ChipType = "sf32lb56"
	ChipSF32LB58 ChipType = "sf32lb58"
)

type MemoryType string

const (
	MemoryNor  MemoryType = "nor"
	MemoryNand MemoryType = "nand"
	MemorySd   MemoryType = "sd"
)

// AddressRange is a half-open [Start, End) window of valid flash addresses.
type AddressRange struct {
	Start uint32
	End   uint32
}

// Contains reports whether [addr, addr+size) fits inside the range.
// Arithmetic is done in uint64 so addr+size cannot wrap.
func (r AddressRange) Contains(addr, size uint32) bool {
	return uint64(addr) >= uint64(r.Start) && uint64(addr)+uint64(size) <= uint64(r.End)
}

func (r AddressRange) String() string {
	return fmt.Sprintf("0x%08X..0x%08X", r.Start, r.End)
}

// OpcodeSet maps the logical commands onto a protocol family's numbering.
// WriteComp is zero for families without a compressed-write path.
type OpcodeSet struct {
	Sync      uint8
	ChipID    uint8
	Write     uint8
	WriteComp uint8
	Read      uint8
	Erase     uint8
	EraseAll  uint8
	SetBaud   uint8
	Reset     uint8
}

// The v2 family covers SF32LB52/56/58 bootloaders.
var opcodesV2 = OpcodeSet{
	Sync:      0x01,
	ChipID:    0x02,
	Read:      0x10,
	Write:     0x11,
	WriteComp: 0x12,
	Erase:     0x20,
	EraseAll:  0x21,
	SetBaud:   0x30,
	Reset:     0x31,
}

// The v1 family is the older SF32LB55 bootloader: dense numbering, no
// compressed writes.
var opcodesV1 = OpcodeSet{
	Sync:     0x01,
	ChipID:   0x02,
	Read:     0x03,
	Write:    0x04,
	Erase:    0x05,
	EraseAll: 0x06,
	SetBaud:  0x07,
	Reset:    0x08,
}

// ChipProfile is the immutable record of one (chip, memory) combination.
type ChipProfile struct {
	Chip   ChipType
	Memory MemoryType
	// Largest data slice a single write/read frame may carry.
	MaxPayload int
	// Erase granularity. Erase requests round outward to this.
	EraseBlock uint32
	// Valid address windows, erase-block aligned.
	Ranges []AddressRange
	// Protocol family numbering for this combination.
	Opcodes OpcodeSet
	// Whether the bootloader accepts compressed write frames.
	Compression bool
	// Identity string the chip reports in the sync response.
	Identity string
}

var norRange = []AddressRange{{0x10000000, 0x20000000}}
var nandRange = []AddressRange{{0x60000000, 0x80000000}}
var sdRange = []AddressRange{{0x00000000, 0xE0000000}}

var profiles = map[ChipType]map[MemoryType]*ChipProfile{
	ChipSF32LB52: {
		MemoryNor:  {ChipSF32LB52, MemoryNor, 4096, 0x1000, norRange, opcodesV2, true, "SF32LB52"},
		MemoryNand: {ChipSF32LB52, MemoryNand, 2048, 0x20000, nandRange, opcodesV2, true, "SF32LB52"},
		MemorySd:   {ChipSF32LB52, MemorySd, 4096, 512, sdRange, opcodesV2, false, "SF32LB52"},
	},
	ChipSF32LB55: {
		MemoryNor: {ChipSF32LB55, MemoryNor, 2048, 0x1000, norRange, opcodesV1, false, "SF32LB55"},
	},
	ChipSF32LB56: {
		MemoryNor:  {ChipSF32LB56, MemoryNor, 4096, 0x1000, norRange, opcodesV2, true, "SF32LB56"},
		MemoryNand: {ChipSF32LB56, MemoryNand, 2048, 0x20000, nandRange, opcodesV2, true, "SF32LB56"},
		MemorySd:   {ChipSF32LB56, MemorySd, 4096, 512, sdRange, opcodesV2, false, "SF32LB56"},
	},
	ChipSF32LB58: {
		MemoryNor:  {ChipSF32LB58, MemoryNor, 4096, 0x1000, norRange, opcodesV2, true, "SF32LB58"},
		MemoryNand: {ChipSF32LB58, MemoryNand, 2048, 0x20000, nandRange, opcodesV2, true, "SF32LB58"},
		MemorySd:   {ChipSF32LB58, MemorySd, 4096, 512, sdRange, opcodesV2, false, "SF32LB58"},
	},
}

// LookupProfile resolves a (chip, memory) pair. Unknown combinations are a
// configuration error reported before any connection attempt.
func LookupProfile(chip ChipType, memory MemoryType) (*ChipProfile, error) {
	if byMem, ok := profiles[chip]; ok {
		if p, ok := byMem[memory]; ok {
			return p, nil
		}
	}
	return nil, &UnsupportedChipError{Chip: chip, Memory: memory}
}

// Chips lists the supported chip identifiers in table order.
func Chips() []ChipType {
	return []ChipType{ChipSF32LB52, ChipSF32LB55, ChipSF32LB56, ChipSF32LB58}
}

// CheckRange validates that [addr, addr+size) fits within one of the
// profile's address windows.
func (p *ChipProfile) CheckRange(addr, size uint32) error {
	for _, r := range p.Ranges {
		if r.Contains(addr, size) {
			return nil
		}
	}
	return fmt.Errorf("%w: 0x%08X+0x%X not within %s/%s flash",
		ErrAddressOutOfRange, addr, size, p.Chip, p.Memory)
}

// RegionContaining returns the address window holding addr. Full-chip
// erase targets the window, not the whole address space.
func (p *ChipProfile) RegionContaining(addr uint32) (AddressRange, bool) {
	for _, r := range p.Ranges {
		if r.Contains(addr, 0) && addr < r.End {
			return r, true
		}
	}
	return AddressRange{}, false
}
