package config

import (
	"errors"
	"fmt"
)

// Validate checks every invariant from spec §3/§8 and returns all
// violations joined together (via errors.Join) rather than stopping at
// the first one, so an operator gets a complete diagnostic from a
// single rejected reload.
func (c *Config) Validate() error {
	var errs []error

	seenHosts := make(map[string]struct{})
	addHost := func(h string) {
		if h == "" {
			errs = append(errs, errors.New("a site has an empty host_name"))
			return
		}
		if _, dup := seenHosts[h]; dup {
			errs = append(errs, fmt.Errorf("duplicate host_name %q", h))
			return
		}
		seenHosts[h] = struct{}{}
	}

	for _, s := range c.RemoteTargets {
		addHost(s.HostName)
		for _, b := range s.Backends {
			if b.Port == 0 {
				errs = append(errs, fmt.Errorf("remote site %q: backend port 0 is invalid", s.HostName))
			}
		}
	}
	for _, s := range c.DirServers {
		addHost(s.HostName)
	}

	seenPorts := make(map[uint16]string)
	for i := range c.HostedProcesses {
		h := &c.HostedProcesses[i]
		addHost(h.HostName)
		if h.Bin == "" {
			errs = append(errs, fmt.Errorf("hosted process %q: bin is required", h.HostName))
		}
		if h.Port != nil {
			if owner, dup := seenPorts[*h.Port]; dup {
				errs = append(errs, fmt.Errorf("hosted process %q: configured port %d already used by %q", h.HostName, *h.Port, owner))
			} else {
				seenPorts[*h.Port] = h.HostName
			}
			if envPort, ok := h.envPort(); ok && envPort != *h.Port {
				errs = append(errs, fmt.Errorf("hosted process %q: configured port %d conflicts with PORT=%d in env_vars", h.HostName, *h.Port, envPort))
			}
		}
	}

	if c.Version != "" && c.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version %q", c.Version))
	}

	return errors.Join(errs...)
}

// envPort returns the PORT environment variable configured for this
// process, if any, as described by spec §4.9's port allocator.
func (h *HostedProcess) envPort() (uint16, bool) {
	for _, e := range h.EnvVars {
		if e.Key == "PORT" {
			var n uint16
			_, err := fmt.Sscanf(e.Value, "%d", &n)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
