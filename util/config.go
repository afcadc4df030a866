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
	"fmt"
	"os"

	"github.com/OpenSiFli/sftool"
	"github.com/OpenSiFli/sftool/programmer"

	"gopkg.in/yaml.v3"
)

// HexUint is a uint32 that unmarshals from "0x..." strings (or plain
// integers) in configuration files.
type HexUint uint32

func (h *HexUint) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseUint32(raw)
	if err != nil {
		return err
	}
	*h = HexUint(v)
	return nil
}

// Config is the file-backed configuration surface. YAML is a superset of
// JSON, so both config styles load through the same path.
type Config struct {
	Chip            string `yaml:"chip"`
	Memory          string `yaml:"memory"`
	Port            string `yaml:"port"`
	Baud            int    `yaml:"baud"`
	Before          string `yaml:"before"`
	After           string `yaml:"after"`
	ConnectAttempts int    `yaml:"connect_attempts"`
	Compat          bool   `yaml:"compat"`

	WriteFlash  *WriteFlashConfig  `yaml:"write_flash"`
	ReadFlash   *ReadFlashConfig   `yaml:"read_flash"`
	EraseFlash  *EraseFlashConfig  `yaml:"erase_flash"`
	EraseRegion *EraseRegionConfig `yaml:"erase_region"`
}

type WriteFileConfig struct {
	Path    string   `yaml:"path"`
	Address *HexUint `yaml:"address"`
}

type WriteFlashConfig struct {
	Files      []WriteFileConfig `yaml:"files"`
	Verify     bool              `yaml:"verify"`
	EraseAll   bool              `yaml:"erase_all"`
	NoCompress bool              `yaml:"no_compress"`
}

type ReadFileConfig struct {
	Path    string  `yaml:"path"`
	Address HexUint `yaml:"address"`
	Size    HexUint `yaml:"size"`
}

type ReadFlashConfig struct {
	Files []ReadFileConfig `yaml:"files"`
}

type EraseFlashConfig struct {
	Address HexUint `yaml:"address"`
}

type RegionConfig struct {
	Address HexUint `yaml:"address"`
	Size    HexUint `yaml:"size"`
}

type EraseRegionConfig struct {
	Regions []RegionConfig `yaml:"regions"`
}

// DefaultConfig returns the documented defaults; the zero Config is not
// directly usable.
func DefaultConfig() *Config {
	return &Config{
		Memory:          string(sftool.MemoryNor),
		Baud:            programmer.DefaultConnectBaud,
		Before:          string(programmer.DefaultReset),
		After:           string(programmer.SoftReset),
		ConnectAttempts: 3,
	}
}

// LoadConfig reads a YAML or JSON config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s failed: %w", path, err)
	}
	return cfg, nil
}

// Validate applies the structural rules: a known chip/memory pair, a port,
// sane reset modes and exactly one operation block.
func (c *Config) Validate() error {
	if c.Chip == "" {
		return fmt.Errorf("chip is required")
	}
	if _, err := sftool.LookupProfile(sftool.ChipType(c.Chip), sftool.MemoryType(c.Memory)); err != nil {
		return err
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	for _, m := range []string{c.Before, c.After} {
		switch programmer.ResetMode(m) {
		case programmer.NoReset, programmer.SoftReset, programmer.DefaultReset:
		default:
			return fmt.Errorf("invalid reset mode %q", m)
		}
	}

	ops := 0
	if c.WriteFlash != nil {
		ops++
		if len(c.WriteFlash.Files) == 0 {
			return fmt.Errorf("write_flash requires at least one file")
		}
	}
	if c.ReadFlash != nil {
		ops++
		if len(c.ReadFlash.Files) == 0 {
			return fmt.Errorf("read_flash requires at least one file")
		}
	}
	if c.EraseFlash != nil {
		ops++
	}
	if c.EraseRegion != nil {
		ops++
		if len(c.EraseRegion.Regions) == 0 {
			return fmt.Errorf("erase_region requires at least one region")
		}
	}
	if ops != 1 {
		return fmt.Errorf("exactly one operation block is required, found %d", ops)
	}
	return nil
}
