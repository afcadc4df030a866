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

package util

import (
	"context"
	"fmt"
	"os"

	"github.com/OpenSiFli/sftool"
	"github.com/OpenSiFli/sftool/programmer"

	"github.com/golang/glog"
)

// Run validates cfg, connects a session over the configured port and drives
// the requested operation to completion.
func Run(ctx context.Context, cfg *Config, progress programmer.ProgressFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	profile, err := sftool.LookupProfile(sftool.ChipType(cfg.Chip), sftool.MemoryType(cfg.Memory))
	if err != nil {
		return err
	}

	t, err := sftool.OpenSerial(cfg.Port, programmer.DefaultConnectBaud)
	if err != nil {
		return err
	}

	opts := programmer.Options{
		ConnectAttempts: cfg.ConnectAttempts,
		Compat:          cfg.Compat,
		Before:          programmer.ResetMode(cfg.Before),
		After:           programmer.ResetMode(cfg.After),
		Baud:            cfg.Baud,
		Progress:        progress,
	}
	if cfg.WriteFlash != nil {
		opts.NoCompress = cfg.WriteFlash.NoCompress
	}

	prog, err := programmer.New(ctx, t, profile, opts)
	if err != nil {
		return err
	}
	defer prog.Close()

	return Execute(ctx, prog, cfg)
}

// Execute dispatches the single operation block of cfg on an established
// session. cfg must already be validated.
func Execute(ctx context.Context, prog *programmer.Programmer, cfg *Config) error {
	switch {
	case cfg.WriteFlash != nil:
		return executeWrite(ctx, prog, cfg.WriteFlash)
	case cfg.ReadFlash != nil:
		return executeRead(ctx, prog, cfg.ReadFlash)
	case cfg.EraseFlash != nil:
		glog.Infof("Erasing flash at 0x%08X", uint32(cfg.EraseFlash.Address))
		return prog.EraseFlash(ctx, uint32(cfg.EraseFlash.Address))
	case cfg.EraseRegion != nil:
		return executeEraseRegion(ctx, prog, cfg.EraseRegion)
	default:
		return fmt.Errorf("no operation configured")
	}
}

func executeWrite(ctx context.Context, prog *programmer.Programmer, cfg *WriteFlashConfig) error {
	var segs []sftool.Segment
	for _, f := range cfg.Files {
		var addr *uint32
		if f.Address != nil {
			v := uint32(*f.Address)
			addr = &v
		}
		fileSegs, err := LoadFirmwareFile(f.Path, addr)
		if err != nil {
			return err
		}
		segs = append(segs, fileSegs...)
	}
	// Overlap across input files is a configuration error, caught here
	// with the rest of the validation before any frame is sent.
	if err := sftool.ValidateSegments(prog.Profile(), segs); err != nil {
		return err
	}

	total := 0
	for _, s := range segs {
		total += len(s.Data)
	}
	glog.Infof("Writing %d bytes in %d segment(s)", total, len(segs))

	err := prog.WriteFlash(ctx, segs, programmer.WriteOptions{
		Verify:     cfg.Verify,
		EraseAll:   cfg.EraseAll,
		NoCompress: cfg.NoCompress,
	})
	if err != nil {
		return err
	}
	glog.Info("Write completed successfully")
	return nil
}

func executeRead(ctx context.Context, prog *programmer.Programmer, cfg *ReadFlashConfig) error {
	for _, f := range cfg.Files {
		glog.Infof("Reading 0x%X bytes from 0x%08X into %s", uint32(f.Size), uint32(f.Address), f.Path)
		data, err := prog.ReadFlash(ctx, uint32(f.Address), uint32(f.Size))
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.Path, data, 0644); err != nil {
			return fmt.Errorf("writing %s failed: %w", f.Path, err)
		}
	}
	glog.Info("Read completed successfully")
	return nil
}

func executeEraseRegion(ctx context.Context, prog *programmer.Programmer, cfg *EraseRegionConfig) error {
	regions := make([]programmer.Region, len(cfg.Regions))
	for i, r := range cfg.Regions {
		regions[i] = programmer.Region{Address: uint32(r.Address), Size: uint32(r.Size)}
	}
	erased, err := prog.EraseRegion(ctx, regions)
	for _, r := range erased {
		glog.Infof("Erased %v", r)
	}
	return err
}
