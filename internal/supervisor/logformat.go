package supervisor

import (
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/oddbox-proxy/oddbox/internal/config"
)

// classifyLogLine maps a captured stdout/stderr line to a zap level,
// either always Info (standard format) or via the dotnet-formatter
// heuristic spec §4.8 describes: scan for "INFO:", "WARN:" etc.
func classifyLogLine(format config.LogFormat, line string) zapcore.Level {
	if format != config.LogFormatDotnet {
		return zapcore.InfoLevel
	}

	trimmed := strings.TrimSpace(line)
	switch {
	case hasAnyPrefix(trimmed, "fail:", "FAIL:", "CRITICAL:", "crit:"):
		return zapcore.ErrorLevel
	case hasAnyPrefix(trimmed, "warn:", "WARN:"):
		return zapcore.WarnLevel
	case hasAnyPrefix(trimmed, "dbug:", "DEBUG:", "trce:", "TRACE:"):
		return zapcore.DebugLevel
	case hasAnyPrefix(trimmed, "info:", "INFO:"):
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
