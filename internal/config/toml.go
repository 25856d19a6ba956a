package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// DefaultSearchNames is the default search order for a config file when
// none is given on the command line (spec §6).
var DefaultSearchNames = []string{"odd-box.toml", "oddbox.toml", "Config.toml"}

// Locate walks DefaultSearchNames in dir and returns the first one that
// exists, or an error if none do.
func Locate(dir string) (string, error) {
	for _, name := range DefaultSearchNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config file found (tried %v in %s)", DefaultSearchNames, dir)
}

// Load reads and parses the TOML file at path, upgrading it in place
// (with a .backupN side file) if it is a v1 or v2 document, and
// applying documented defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	version, err := sniffVersion(raw)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	switch version {
	case "", "V1":
		cfg, err = upgradeFromV1(raw)
	case "V2":
		cfg, err = upgradeFromV2(raw)
	case CurrentVersion:
		cfg = new(Config)
		if _, err = toml.Decode(string(raw), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config version %q", version)
	}
	if err != nil {
		return nil, err
	}

	if version != CurrentVersion {
		if err := backupAndUpgrade(path, raw, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Defaults()
	for i := range cfg.HostedProcesses {
		if cfg.HostedProcesses[i].ProcID == "" {
			cfg.HostedProcesses[i].ProcID = uuid.New().String()
		}
	}
	return cfg, nil
}

// sniffVersion reads just the top-level "version" key without fully
// decoding the rest of the document, so upgrade paths can dispatch on
// it before they know the shape of the older schema.
func sniffVersion(raw []byte) (string, error) {
	var probe struct {
		Version string `toml:"version"`
	}
	if _, err := toml.Decode(string(raw), &probe); err != nil {
		return "", fmt.Errorf("parsing config to determine version: %w", err)
	}
	return probe.Version, nil
}

// backupAndUpgrade writes path+".backupN" (first unused N) containing
// the original bytes, then serializes cfg as V3 back to path.
func backupAndUpgrade(path string, originalRaw []byte, cfg *Config) error {
	for n := 1; ; n++ {
		backupPath := fmt.Sprintf("%s.backup%d", path, n)
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			if err := os.WriteFile(backupPath, originalRaw, 0o600); err != nil {
				return fmt.Errorf("writing config backup: %w", err)
			}
			break
		}
	}
	cfg.Version = CurrentVersion
	return Save(path, cfg)
}

// Save serializes cfg as TOML and writes it to path.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// legacyV1 and legacyV2 model only the fields that changed shape
// across versions; everything else decodes directly into the V3
// field names since the TOML keys were stable across all three
// generations (per original_source/src/configuration/v1.rs, v2.rs).
type legacyV1V2 struct {
	Version          string          `toml:"version"`
	RootDir          string          `toml:"root_dir"`
	LogLevel         LogLevel        `toml:"log_level"`
	Port             uint16          `toml:"port"` // v1 used a single "port" for http
	TLSPort          uint16          `toml:"tls_port"`
	PortRangeStart   uint16          `toml:"port_range_start"`
	DefaultLogFormat LogFormat       `toml:"default_log_format"`
	IP               string          `toml:"ip"`
	RemoteTargets    []RemoteSite    `toml:"remote_target"`
	HostedProcesses  []HostedProcess `toml:"hosted_process"`
	DirServers       []DirServer     `toml:"dir_server"`
	EnvVars          []EnvVar        `toml:"env_vars"`
}

// upgradeFromV1 maps the old single "port" (cleartext) field onto the
// current "http_port" name; everything else is structurally identical.
func upgradeFromV1(raw []byte) (*Config, error) {
	var old legacyV1V2
	if _, err := toml.Decode(string(raw), &old); err != nil {
		return nil, fmt.Errorf("parsing v1 config: %w", err)
	}
	return &Config{
		Version:          CurrentVersion,
		RootDir:          old.RootDir,
		LogLevel:         old.LogLevel,
		HTTPPort:         old.Port,
		TLSPort:          old.TLSPort,
		PortRangeStart:   old.PortRangeStart,
		DefaultLogFormat: old.DefaultLogFormat,
		IP:               old.IP,
		RemoteTargets:    old.RemoteTargets,
		HostedProcesses:  old.HostedProcesses,
		DirServers:       old.DirServers,
		EnvVars:          old.EnvVars,
	}, nil
}

// upgradeFromV2 is a straight field-for-field decode: v2 already used
// "http_port", so only the version tag needs to move forward.
func upgradeFromV2(raw []byte) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.Decode(string(raw), cfg); err != nil {
		return nil, fmt.Errorf("parsing v2 config: %w", err)
	}
	cfg.Version = CurrentVersion
	return cfg, nil
}
