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

// sftool downloads firmware to SiFli SoCs over a serial port.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenSiFli/sftool"
	"github.com/OpenSiFli/sftool/programmer"
	"github.com/OpenSiFli/sftool/util"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	flagConfig          string
	flagChip            string
	flagMemory          string
	flagPort            string
	flagBaud            int
	flagBefore          string
	flagAfter           string
	flagConnectAttempts int
	flagCompat          bool
	flagQuiet           bool
)

func main() {
	root := &cobra.Command{
		Use:           "sftool",
		Short:         "Firmware download tool for SiFli SoCs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	root.PersistentFlags().StringVarP(&flagConfig, "config", "f", "", "YAML/JSON configuration file")
	root.PersistentFlags().StringVarP(&flagChip, "chip", "c", "", fmt.Sprintf("target chip %v", sftool.Chips()))
	root.PersistentFlags().StringVarP(&flagMemory, "memory", "m", "", "memory type (nor|nand|sd)")
	root.PersistentFlags().StringVarP(&flagPort, "port", "p", "", "serial port device")
	root.PersistentFlags().IntVarP(&flagBaud, "baud", "b", 0, "baud rate used while flashing/reading")
	root.PersistentFlags().StringVar(&flagBefore, "before", "", "action before connecting (no_reset|soft_reset|default_reset)")
	root.PersistentFlags().StringVar(&flagAfter, "after", "", "action after finishing (no_reset|soft_reset|default_reset)")
	root.PersistentFlags().IntVar(&flagConnectAttempts, "connect-attempts", 0, "connection attempts, <= 0 for unlimited")
	root.PersistentFlags().BoolVar(&flagCompat, "compat", false, "compatibility mode for slow or noisy links")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress output")

	root.AddCommand(writeFlashCmd(), readFlashCmd(), eraseFlashCmd(), eraseRegionCmd(), runConfigCmd())

	defer glog.Flush()
	if err := root.Execute(); err != nil {
		glog.Errorf("sftool: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

// baseConfig merges the config file (if any) with explicitly set flags;
// flags win.
func baseConfig(cmd *cobra.Command) (*util.Config, error) {
	cfg := util.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = util.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("chip") {
		cfg.Chip = flagChip
	}
	if cmd.Flags().Changed("memory") {
		cfg.Memory = flagMemory
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("baud") {
		cfg.Baud = flagBaud
	}
	if cmd.Flags().Changed("before") {
		cfg.Before = flagBefore
	}
	if cmd.Flags().Changed("after") {
		cfg.After = flagAfter
	}
	if cmd.Flags().Changed("connect-attempts") {
		cfg.ConnectAttempts = flagConnectAttempts
	}
	if cmd.Flags().Changed("compat") {
		cfg.Compat = flagCompat
	}
	return cfg, nil
}

func run(cfg *util.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress programmer.ProgressFunc
	if !flagQuiet {
		progress = printProgress
	}
	err := util.Run(ctx, cfg, progress)
	if !flagQuiet {
		fmt.Fprintln(os.Stderr)
	}
	return err
}

func printProgress(phase string, done, total int) {
	if total <= 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s: %d/%d bytes (%d%%)", phase, done, total, 100*done/total)
}

func writeFlashCmd() *cobra.Command {
	var verify, noCompress, eraseAll bool
	cmd := &cobra.Command{
		Use:   "write_flash <file[@address]>...",
		Short: "Write binary blobs to flash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			wf := &util.WriteFlashConfig{Verify: verify, NoCompress: noCompress, EraseAll: eraseAll}
			for _, spec := range args {
				path, addr, err := util.ParseWriteFileSpec(spec)
				if err != nil {
					return err
				}
				fc := util.WriteFileConfig{Path: path}
				if addr != nil {
					v := util.HexUint(*addr)
					fc.Address = &v
				}
				wf.Files = append(wf.Files, fc)
			}
			cfg.WriteFlash = wf
			clearOtherOps(cfg, "write")
			return run(cfg)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", true, "verify written data by reading it back")
	cmd.Flags().BoolVarP(&noCompress, "no-compress", "u", false, "disable data compression during transfer")
	cmd.Flags().BoolVarP(&eraseAll, "erase-all", "e", false, "erase all flash regions before programming")
	return cmd
}

func readFlashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read_flash <file@address:size>...",
		Short: "Read binary blobs from flash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			rf := &util.ReadFlashConfig{}
			for _, spec := range args {
				path, addr, size, err := util.ParseReadFileSpec(spec)
				if err != nil {
					return err
				}
				rf.Files = append(rf.Files, util.ReadFileConfig{
					Path: path, Address: util.HexUint(addr), Size: util.HexUint(size),
				})
			}
			cfg.ReadFlash = rf
			clearOtherOps(cfg, "read")
			return run(cfg)
		},
	}
}

func eraseFlashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase_flash <address>",
		Short: "Erase the entire flash region containing the address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := util.ParseUint32(args[0])
			if err != nil {
				return err
			}
			cfg.EraseFlash = &util.EraseFlashConfig{Address: util.HexUint(addr)}
			clearOtherOps(cfg, "erase")
			return run(cfg)
		},
	}
}

func eraseRegionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase_region <address:size>...",
		Short: "Erase regions of the flash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			er := &util.EraseRegionConfig{}
			for _, spec := range args {
				addr, size, err := util.ParseRegionSpec(spec)
				if err != nil {
					return err
				}
				er.Regions = append(er.Regions, util.RegionConfig{
					Address: util.HexUint(addr), Size: util.HexUint(size),
				})
			}
			cfg.EraseRegion = er
			clearOtherOps(cfg, "erase_region")
			return run(cfg)
		},
	}
}

// runConfigCmd executes whatever single operation the config file declares.
func runConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the operation declared in the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagConfig == "" {
				return fmt.Errorf("run requires --config")
			}
			cfg, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

// clearOtherOps keeps the subcommand's operation as the single active block
// even when a config file declared a different one.
func clearOtherOps(cfg *util.Config, keep string) {
	if keep != "write" {
		cfg.WriteFlash = nil
	}
	if keep != "read" {
		cfg.ReadFlash = nil
	}
	if keep != "erase" {
		cfg.EraseFlash = nil
	}
	if keep != "erase_region" {
		cfg.EraseRegion = nil
	}
}
