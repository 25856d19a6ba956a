package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(n uint16) *uint16 { return &n }
func b(v bool) *bool       { return &v }

func TestValidate_DuplicateHostnames(t *testing.T) {
	cfg := &Config{
		RemoteTargets: []RemoteSite{
			{HostName: "a.local", Backends: []Backend{{Address: "127.0.0.1", Port: 9000}}},
		},
		DirServers: []DirServer{
			{HostName: "a.local", Dir: "/srv"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate host_name")
}

func TestValidate_PortUniqueness(t *testing.T) {
	cfg := &Config{
		HostedProcesses: []HostedProcess{
			{HostName: "one.local", Bin: "./one", Port: u16(5000)},
			{HostName: "two.local", Bin: "./two", Port: u16(5000)},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by")
}

func TestValidate_RemoteZeroPortRejected(t *testing.T) {
	cfg := &Config{
		RemoteTargets: []RemoteSite{
			{HostName: "a.local", Backends: []Backend{{Address: "127.0.0.1", Port: 0}}},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 0 is invalid")
}

func TestValidate_HostedZeroPortTolerated(t *testing.T) {
	cfg := &Config{
		HostedProcesses: []HostedProcess{
			{HostName: "a.local", Bin: "./a"},
		},
	}
	assert.NoError(t, cfg.Validate())
}

func TestUnchanged_NoneEqualsSomeFalse(t *testing.T) {
	a := &HostedProcess{HostName: "x", Bin: "./x", CaptureSubdomains: nil}
	other := &HostedProcess{HostName: "x", Bin: "./x", CaptureSubdomains: b(false)}
	assert.True(t, a.Unchanged(other), "None and Some(false) must compare equal")
}

func TestUnchanged_LogFormatDefaultCoalesce(t *testing.T) {
	std := LogFormatStandard
	a := &HostedProcess{HostName: "x", Bin: "./x"}
	other := &HostedProcess{HostName: "x", Bin: "./x", LogFormat: &std}
	assert.True(t, a.Unchanged(other))
}

func TestUnchanged_DetectsRealChange(t *testing.T) {
	a := &HostedProcess{HostName: "x", Bin: "./x", Port: u16(4000)}
	other := &HostedProcess{HostName: "x", Bin: "./x", Port: u16(4001)}
	assert.False(t, a.Unchanged(other))
}

func TestLoadAndUpgrade_V1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odd-box.toml")
	v1 := `
version = "V1"
port = 8080
tls_port = 4343

[[hosted_process]]
host_name = "legacy.local"
bin = "./legacy"
`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, uint16(8080), cfg.HTTPPort)
	assert.Len(t, cfg.HostedProcesses, 1)

	// backup side-file was written
	matches, _ := filepath.Glob(path + ".backup*")
	assert.Len(t, matches, 1)

	// upgraded file on disk now round-trips as V3 without another backup
	cfg2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.HTTPPort, cfg2.HTTPPort)
	matches2, _ := filepath.Glob(path + ".backup*")
	assert.Len(t, matches2, 1, "a file already at V3 should not be backed up again")
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	_, err := Locate(dir)
	require.Error(t, err)

	path := filepath.Join(dir, "oddbox.toml")
	require.NoError(t, os.WriteFile(path, []byte("version=\"V3\"\n"), 0o600))
	found, err := Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, path, found)
}
