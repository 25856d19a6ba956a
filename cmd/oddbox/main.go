// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	oddbox "github.com/oddbox-proxy/oddbox"
	"github.com/oddbox-proxy/oddbox/internal/config"
)

var (
	flagPort            uint16
	flagTLSPort         uint16
	flagTUI             bool
	flagUpdate          bool
	flagGenerateExample bool
	flagInit            bool
	flagUpgradeConfig   bool
	flagConfigSchema    bool
)

func main() {
	// Match GOMAXPROCS to the container CPU quota, the same courtesy
	// the teacher's cmd/main.go extends before doing anything else.
	undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))
	defer undo()
	if err != nil {
		zap.L().Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	// Match the container's memory quota the same way, so a child
	// process boom under load gets OOM-killed by Go's GC pacing
	// instead of the kernel picking a victim.
	_, _ = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(zap.L().Core()))),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)

	root := &cobra.Command{
		Use:          "oddbox [config]",
		Short:        "A tiny reverse proxy and process supervisor",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         runRoot,
	}

	addFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addFlags registers every flag on fs. Typed as *pflag.FlagSet rather
// than relying solely on cobra's embedding of it, matching the
// teacher's own Flags wrapper around *pflag.FlagSet.
func addFlags(fs *pflag.FlagSet) {
	fs.Uint16Var(&flagPort, "port", 0, "override the configured cleartext HTTP port")
	fs.Uint16Var(&flagTLSPort, "tls-port", 0, "override the configured TLS port")
	fs.BoolVar(&flagTUI, "tui", false, "enable the terminal UI")
	fs.BoolVar(&flagUpdate, "update", false, "check for and install an update, then exit")
	fs.BoolVar(&flagGenerateExample, "generate-example-cfg", false, "write an example configuration file and exit")
	fs.BoolVar(&flagInit, "init", false, "write a minimal configuration file if none exists, then exit")
	fs.BoolVar(&flagUpgradeConfig, "upgrade-config", false, "upgrade an old configuration file in place, then exit")
	fs.BoolVar(&flagConfigSchema, "config-schema", false, "print the configuration's JSON schema and exit")
}

func runRoot(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath(args)
	if err != nil {
		return err
	}

	switch {
	case flagConfigSchema:
		fmt.Println(configSchemaJSON)
		return nil
	case flagGenerateExample:
		return writeExampleConfig(path)
	case flagInit:
		return writeInitConfig(path)
	case flagUpgradeConfig:
		return upgradeConfigInPlace(path)
	case flagUpdate:
		fmt.Println("update checking is not available in this build")
		return nil
	}

	a, err := oddbox.LoadApp(path)
	if err != nil {
		return fmt.Errorf("oddbox: %w", err)
	}

	cfg := a.GS.Snapshot().Cfg
	httpPort := cfg.HTTPPort
	if flagPort != 0 {
		httpPort = flagPort
	}
	tlsPort := cfg.TLSPort
	if flagTLSPort != 0 {
		tlsPort = flagTLSPort
	}

	if err := a.Run(context.Background(), cfg.IP, httpPort, tlsPort); err != nil {
		return fmt.Errorf("oddbox: %w", err)
	}
	return nil
}

func resolveConfigPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	path, err := config.Locate(".")
	if err != nil {
		return "", err
	}
	return path, nil
}

func writeExampleConfig(path string) error {
	cfg := &config.Config{
		RootDir: ".",
		RemoteTargets: []config.RemoteSite{
			{HostName: "example.com", Backends: []config.Backend{{Address: "127.0.0.1", Port: 3000}}},
		},
	}
	cfg.Defaults()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("writing example config: %w", err)
	}
	fmt.Println("wrote", path)
	return nil
}

func writeInitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Println(path, "already exists, leaving it untouched")
		return nil
	}
	cfg := &config.Config{RootDir: "."}
	cfg.Defaults()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("writing initial config: %w", err)
	}
	fmt.Println("wrote", path)
	return nil
}

func upgradeConfigInPlace(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("upgrading config: %w", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("upgrading config: %w", err)
	}
	fmt.Println("upgraded", path, "to", config.CurrentVersion)
	return nil
}

const configSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "oddbox configuration",
  "type": "object",
  "properties": {
    "version": {"type": "string"},
    "root_dir": {"type": "string"},
    "log_level": {"type": "string", "enum": ["Trace", "Debug", "Info", "Warn", "Error"]},
    "port_range_start": {"type": "integer"},
    "default_log_format": {"type": "string", "enum": ["standard", "dotnet"]},
    "ip": {"type": "string"},
    "http_port": {"type": "integer"},
    "tls_port": {"type": "integer"},
    "auto_start": {"type": "boolean"},
    "env_vars": {"type": "array"},
    "remote_target": {"type": "array"},
    "hosted_process": {"type": "array"},
    "dir_server": {"type": "array"},
    "lets_encrypt_account_email": {"type": "string"},
    "odd_box_url": {"type": "string"},
    "odd_box_password": {"type": "string"}
  }
}`
