// Package config holds the on-disk configuration model: the TOML
// structures, v1/v2 upgrade, validation, and the "changed" equality
// rule the hot-reload reconciler depends on.
package config

import "fmt"

// Hint names a protocol a backend is known to support. An empty hint
// list on a Backend defaults to H1-compatible.
type Hint string

const (
	HintH1    Hint = "H1"
	HintH2    Hint = "H2"
	HintH2C   Hint = "H2C"
	HintH2CPK Hint = "H2CPK"
	HintH3    Hint = "H3"
)

// LogFormat selects how a hosted process's stdout/stderr lines are
// interpreted before being forwarded to the logging subsystem.
type LogFormat string

const (
	LogFormatStandard LogFormat = "standard"
	LogFormatDotnet   LogFormat = "dotnet"
)

// LogLevel is the severity filter applied to a site's own log lines.
type LogLevel string

const (
	LogLevelTrace LogLevel = "Trace"
	LogLevelDebug LogLevel = "Debug"
	LogLevelInfo  LogLevel = "Info"
	LogLevelWarn  LogLevel = "Warn"
	LogLevelError LogLevel = "Error"
)

// EnvVar is a single environment variable assignment passed through to
// a hosted process, or merged into the global defaults.
type EnvVar struct {
	Key   string `toml:"key"`
	Value string `toml:"value"`
}

// Backend is a single upstream a RemoteSite or HostedProcess can
// forward to: (address, port, https?, hints?).
type Backend struct {
	Address string `toml:"address"`
	Port    uint16 `toml:"port"`
	HTTPS   bool   `toml:"https"`
	Hints   []Hint `toml:"hints,omitempty"`
}

// SupportsHint reports whether the backend advertises hint h, or,
// for H1, whether it advertises no hints at all (the H1-compatible
// default).
func (b Backend) SupportsHint(h Hint) bool {
	if h == HintH1 && len(b.Hints) == 0 {
		return true
	}
	for _, have := range b.Hints {
		if have == h {
			return true
		}
	}
	return false
}

// RemoteSite is a logical hostname backed by one or more remote
// backends, with no supervised child process.
type RemoteSite struct {
	HostName             string    `toml:"host_name"`
	Backends             []Backend `toml:"backends"`
	CaptureSubdomains    *bool     `toml:"capture_subdomains,omitempty"`
	ForwardSubdomains    *bool     `toml:"forward_subdomains,omitempty"`
	DisableTCPTunnelMode *bool     `toml:"disable_tcp_tunnel_mode,omitempty"`
	EnableLetsEncrypt    *bool     `toml:"enable_lets_encrypt,omitempty"`
}

// DirServer is a static-directory site. The handler that actually
// serves files is an external collaborator (see internal/adminapi);
// this struct is only the dispatch-time configuration surface.
type DirServer struct {
	Dir                     string `toml:"dir"`
	HostName                string `toml:"host_name"`
	CaptureSubdomains       *bool  `toml:"capture_subdomains,omitempty"`
	EnableLetsEncrypt       *bool  `toml:"enable_lets_encrypt,omitempty"`
	EnableDirectoryBrowsing *bool  `toml:"enable_directory_browsing,omitempty"`
	RedirectToHTTPS         *bool  `toml:"redirect_to_https,omitempty"`
	RenderMarkdown          *bool  `toml:"render_markdown,omitempty"`
}

// HostedProcess is a site whose traffic is served by a child process
// the supervisor owns. ActivePort and ProcID are runtime-only and are
// never read from or written to the TOML file.
type HostedProcess struct {
	HostName             string    `toml:"host_name"`
	Bin                  string    `toml:"bin"`
	Args                 []string  `toml:"args,omitempty"`
	Dir                  *string   `toml:"dir,omitempty"`
	EnvVars              []EnvVar  `toml:"env_vars,omitempty"`
	LogFormat            *LogFormat `toml:"log_format,omitempty"`
	LogLevel             *LogLevel  `toml:"log_level,omitempty"`
	AutoStart            *bool     `toml:"auto_start,omitempty"`
	Port                 *uint16   `toml:"port,omitempty"`
	HTTPS                *bool     `toml:"https,omitempty"`
	CaptureSubdomains    *bool     `toml:"capture_subdomains,omitempty"`
	ForwardSubdomains    *bool     `toml:"forward_subdomains,omitempty"`
	ExcludeFromStartAll  *bool     `toml:"exclude_from_start_all,omitempty"`
	EnableLetsEncrypt    *bool     `toml:"enable_lets_encrypt,omitempty"`
	DisableTCPTunnelMode *bool     `toml:"disable_tcp_tunnel_mode,omitempty"`
	Hints                []Hint    `toml:"hints,omitempty"`

	// ProcID uniquely identifies this process entry across reloads so
	// the reconciler can carry it (and ActivePort) forward for an
	// "unchanged" diff result. Never persisted.
	ProcID string `toml:"-"`
	// ActivePort is the port actually bound by the running child.
	// In-memory only; spec §3 forbids persisting it.
	ActivePort *uint16 `toml:"-"`
}

// Backend synthesizes a Backend view of this hosted process for the
// dispatcher, resolving port 0 to ActivePort per spec §4.2's asymmetric
// tolerance for hosted sites (see spec §9 Open Questions).
func (h *HostedProcess) Backend() Backend {
	var port uint16
	if h.Port != nil && *h.Port != 0 {
		port = *h.Port
	} else if h.ActivePort != nil {
		port = *h.ActivePort
	}
	https := h.HTTPS != nil && *h.HTTPS
	return Backend{Address: "127.0.0.1", Port: port, HTTPS: https, Hints: h.Hints}
}

// Config is the full, TOML-decoded on-disk configuration. Consumers
// should never mutate a Config in place once it has been installed as
// part of a Snapshot; replace the whole value instead.
type Config struct {
	Version                string          `toml:"version"`
	RootDir                string          `toml:"root_dir,omitempty"`
	LogLevel                LogLevel       `toml:"log_level,omitempty"`
	ALPN                    []string       `toml:"alpn,omitempty"`
	PortRangeStart          uint16         `toml:"port_range_start,omitempty"`
	DefaultLogFormat        LogFormat      `toml:"default_log_format,omitempty"`
	IP                      string         `toml:"ip,omitempty"`
	HTTPPort                uint16         `toml:"http_port,omitempty"`
	TLSPort                 uint16         `toml:"tls_port,omitempty"`
	AutoStart               *bool          `toml:"auto_start,omitempty"`
	EnvVars                 []EnvVar       `toml:"env_vars,omitempty"`
	RemoteTargets           []RemoteSite   `toml:"remote_target,omitempty"`
	HostedProcesses         []HostedProcess `toml:"hosted_process,omitempty"`
	DirServers              []DirServer    `toml:"dir_server,omitempty"`
	LetsEncryptAccountEmail *string        `toml:"lets_encrypt_account_email,omitempty"`
	OddBoxURL               *string        `toml:"odd_box_url,omitempty"`
	OddBoxPassword          *string        `toml:"odd_box_password,omitempty"`
}

// CurrentVersion is the version tag written by this implementation and
// accepted without upgrade.
const CurrentVersion = "V3"

// Defaults fills in the documented defaults for any zero-valued field
// that has one (spec §6): port_range_start=4200, http_port=8080,
// tls_port=4343.
func (c *Config) Defaults() {
	if c.PortRangeStart == 0 {
		c.PortRangeStart = 4200
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.TLSPort == 0 {
		c.TLSPort = 4343
	}
	if c.DefaultLogFormat == "" {
		c.DefaultLogFormat = LogFormatStandard
	}
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.Version == "" {
		c.Version = CurrentVersion
	}
}

// AllHostnames returns every hostname configured across all site
// variants, for uniqueness checking and dispatch lookups.
func (c *Config) AllHostnames() []string {
	names := make([]string, 0, len(c.RemoteTargets)+len(c.HostedProcesses)+len(c.DirServers))
	for _, s := range c.RemoteTargets {
		names = append(names, s.HostName)
	}
	for _, s := range c.HostedProcesses {
		names = append(names, s.HostName)
	}
	for _, s := range c.DirServers {
		names = append(names, s.HostName)
	}
	return names
}

// String implements fmt.Stringer for diagnostic logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{version=%s hosted=%d remote=%d dirs=%d}",
		c.Version, len(c.HostedProcesses), len(c.RemoteTargets), len(c.DirServers))
}
