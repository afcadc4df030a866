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

package programmer

import (
	"context"
	"fmt"

	"github.com/OpenSiFli/sftool"

	"github.com/golang/glog"
)

// Region is one erase request: an address and a byte count.
type Region struct {
	Address uint32
	Size    uint32
}

// EraseFlash erases the entire flash window containing addr.
func (p *Programmer) EraseFlash(ctx context.Context, addr uint32) error {
	region, ok := p.profile.RegionContaining(addr)
	if !ok {
		return fmt.Errorf("erase: %w: 0x%08X not within %s/%s flash",
			sftool.ErrAddressOutOfRange, addr, p.profile.Chip, p.profile.Memory)
	}
	if err := cancelled(ctx); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	glog.V(1).Infof("Erasing entire flash region %v", region)
	payload := make([]byte, 4)
	putUint32(payload, region.Start)
	if err := p.expectOK(ctx, p.profile.Opcodes.EraseAll, payload, eraseTimeout); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	return nil
}

// EraseRegion erases each region in the order supplied, each independently
// retryable. Regions round outward to the erase granularity; the returned
// ranges are what was actually erased and always cover the requests.
func (p *Programmer) EraseRegion(ctx context.Context, regions []Region) ([]sftool.AddressRange, error) {
	// Validate everything before the first frame goes out.
	rounded := make([]sftool.AddressRange, len(regions))
	for i, r := range regions {
		if r.Size == 0 {
			return nil, fmt.Errorf("erase: empty region at 0x%08X", r.Address)
		}
		if err := p.profile.CheckRange(r.Address, r.Size); err != nil {
			return nil, fmt.Errorf("erase: %w", err)
		}
		rounded[i] = roundToBlocks(r, p.profile.EraseBlock)
	}

	erased := make([]sftool.AddressRange, 0, len(regions))
	for i, r := range rounded {
		if err := cancelled(ctx); err != nil {
			return erased, fmt.Errorf("erase: %w", err)
		}
		glog.V(1).Infof("Erasing %v (requested 0x%08X+0x%X)", r, regions[i].Address, regions[i].Size)

		payload := make([]byte, 8)
		putUint32(payload[0:4], r.Start)
		putUint32(payload[4:8], r.End-r.Start)
		if err := p.expectOK(ctx, p.profile.Opcodes.Erase, payload, eraseTimeout); err != nil {
			return erased, fmt.Errorf("erase: region 0x%08X+0x%X: %w", regions[i].Address, regions[i].Size, err)
		}
		erased = append(erased, r)
		p.reportProgress("erase", i+1, len(rounded))
	}
	return erased, nil
}

// roundToBlocks expands [addr, addr+size) outward to erase-block bounds.
// Never erases less than requested; may erase more.
func roundToBlocks(r Region, block uint32) sftool.AddressRange {
	start := r.Address &^ (block - 1)
	end := r.Address + r.Size
	if rem := end % block; rem != 0 {
		end += block - rem
	}
	return sftool.AddressRange{Start: start, End: end}
}
