package config

// equalOptionalBool implements the reconciler's "None ≡ Some(false)"
// rule (spec §4.10/§9): treat an absent optional boolean as equivalent
// to an explicit false when deciding if a hosted process entry changed
// across a reload. Locked in per the Open Question in spec §9, since
// normalizing on parse would make the TOML round-trip lossy for
// operators who wrote `= false` explicitly.
func equalOptionalBool(a, b *bool) bool {
	av := a != nil && *a
	bv := b != nil && *b
	return av == bv
}

// equalOptionalLogFormat treats nil and a pointer to LogFormatStandard
// as equal, mirroring equalOptionalBool's rule for the one non-boolean
// optional field that has a meaningful default.
func equalOptionalLogFormat(a, b *LogFormat) bool {
	av := LogFormatStandard
	if a != nil {
		av = *a
	}
	bv := LogFormatStandard
	if b != nil {
		bv = *b
	}
	return av == bv
}

func equalHints(a, b []Hint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalEnvVars(a, b []EnvVar) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalOptionalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalOptionalUint16(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Unchanged reports whether h and other are equal for the purposes of
// the hot-reload diff (spec §4.10 step 4): everything compares
// strictly except the designated optional booleans and log_format,
// which coalesce None with their zero value.
func (h *HostedProcess) Unchanged(other *HostedProcess) bool {
	if h.HostName != other.HostName {
		return false
	}
	if h.Bin != other.Bin {
		return false
	}
	if !equalStrings(h.Args, other.Args) {
		return false
	}
	if !equalOptionalString(h.Dir, other.Dir) {
		return false
	}
	if !equalEnvVars(h.EnvVars, other.EnvVars) {
		return false
	}
	if !equalHints(h.Hints, other.Hints) {
		return false
	}
	if !equalOptionalUint16(h.Port, other.Port) {
		return false
	}
	if !equalOptionalBool(h.HTTPS, other.HTTPS) {
		return false
	}
	if h.LogLevel != other.LogLevel {
		if h.LogLevel == nil || other.LogLevel == nil || *h.LogLevel != *other.LogLevel {
			return false
		}
	}
	return equalOptionalLogFormat(h.LogFormat, other.LogFormat) &&
		equalOptionalBool(h.AutoStart, other.AutoStart) &&
		equalOptionalBool(h.CaptureSubdomains, other.CaptureSubdomains) &&
		equalOptionalBool(h.ForwardSubdomains, other.ForwardSubdomains) &&
		equalOptionalBool(h.ExcludeFromStartAll, other.ExcludeFromStartAll) &&
		equalOptionalBool(h.DisableTCPTunnelMode, other.DisableTCPTunnelMode) &&
		equalOptionalBool(h.EnableLetsEncrypt, other.EnableLetsEncrypt)
}
