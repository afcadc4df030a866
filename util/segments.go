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

// Firmware file loading. Each supported format resolves to the same
// normalized segment list; the format is sniffed from the content, not
// trusted from the extension.
package util

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenSiFli/sftool"

	"github.com/golang/glog"
	"github.com/marcinbor85/gohex"
)

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// LoadFirmwareFile produces the ordered segments of one input file.
// For raw binaries the caller-supplied address is required; for Intel-HEX
// and ELF the embedded addressing is authoritative and addr must be nil.
func LoadFirmwareFile(path string, addr *uint32) ([]sftool.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(data, elfMagic):
		if addr != nil {
			return nil, fmt.Errorf("%s: ELF files carry their own addresses, @address is not allowed", path)
		}
		return loadElf(path)
	case looksLikeIntelHex(data):
		if addr != nil {
			return nil, fmt.Errorf("%s: Intel-HEX files carry their own addresses, @address is not allowed", path)
		}
		return loadIntelHex(path, data)
	default:
		if addr == nil {
			return nil, fmt.Errorf("%s: raw binary needs an explicit @address", path)
		}
		glog.V(1).Infof("Loaded %s as raw binary at 0x%08X (%d bytes)", path, *addr, len(data))
		return []sftool.Segment{{Address: *addr, Data: data}}, nil
	}
}

// Intel-HEX is line oriented, every record starting with ':'.
func looksLikeIntelHex(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == ':'
}

func loadIntelHex(path string, data []byte) ([]sftool.Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%s: Intel-HEX parse failed: %w", path, err)
	}

	var segs []sftool.Segment
	for _, s := range mem.GetDataSegments() {
		segs = append(segs, sftool.Segment{Address: s.Address, Data: s.Data})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%s: no data records", path)
	}
	glog.V(1).Infof("Loaded %s as Intel-HEX (%d segments)", path, len(segs))
	return segs, nil
}

func loadElf(path string) ([]sftool.Segment, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: ELF parse failed: %w", path, err)
	}
	defer f.Close()

	var segs []sftool.Segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("%s: reading ELF segment at 0x%08X failed: %w", path, prog.Paddr, err)
		}
		// The physical address is where the bytes land in flash.
		segs = append(segs, sftool.Segment{Address: uint32(prog.Paddr), Data: data})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%s: no loadable segments", path)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })
	glog.V(1).Infof("Loaded %s as ELF (%d loadable segments)", path, len(segs))
	return segs, nil
}

// ParseUint32 accepts 0x/0o/0b prefixed or decimal integers, as the
// configuration surface specifies addresses and sizes.
func ParseUint32(s string) (uint32, error) {
	base := 10
	digits := s
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base, digits = 16, s[2:]
	case strings.HasPrefix(s, "0o"), strings.HasPrefix(s, "0O"):
		base, digits = 8, s[2:]
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		base, digits = 2, s[2:]
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseWriteFileSpec parses "path" or "path@address".
func ParseWriteFileSpec(spec string) (path string, addr *uint32, err error) {
	path, rest, found := strings.Cut(spec, "@")
	if !found {
		return spec, nil, nil
	}
	v, err := ParseUint32(rest)
	if err != nil {
		return "", nil, fmt.Errorf("invalid write spec %q: %w", spec, err)
	}
	return path, &v, nil
}

// ParseReadFileSpec parses "path@address:size".
func ParseReadFileSpec(spec string) (path string, addr, size uint32, err error) {
	path, rest, found := strings.Cut(spec, "@")
	if !found {
		return "", 0, 0, fmt.Errorf("invalid read spec %q: expected path@address:size", spec)
	}
	addrStr, sizeStr, found := strings.Cut(rest, ":")
	if !found {
		return "", 0, 0, fmt.Errorf("invalid read spec %q: expected path@address:size", spec)
	}
	if addr, err = ParseUint32(addrStr); err != nil {
		return "", 0, 0, fmt.Errorf("invalid read spec %q: %w", spec, err)
	}
	if size, err = ParseUint32(sizeStr); err != nil {
		return "", 0, 0, fmt.Errorf("invalid read spec %q: %w", spec, err)
	}
	return path, addr, size, nil
}

// ParseRegionSpec parses "address:size".
func ParseRegionSpec(spec string) (addr, size uint32, err error) {
	addrStr, sizeStr, found := strings.Cut(spec, ":")
	if !found {
		return 0, 0, fmt.Errorf("invalid region %q: expected address:size", spec)
	}
	if addr, err = ParseUint32(addrStr); err != nil {
		return 0, 0, fmt.Errorf("invalid region %q: %w", spec, err)
	}
	if size, err = ParseUint32(sizeStr); err != nil {
		return 0, 0, fmt.Errorf("invalid region %q: %w", spec, err)
	}
	return addr, size, nil
}
