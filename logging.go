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

package oddbox

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/util"
)

// newLogger builds the process-wide zap.Logger: a console-encoded core
// writing to stdout at the configured level, fanned out through
// util.LogBroadcastCore so the (out-of-scope) terminal UI and admin
// WebSocket can tail live log lines without their own polling loop.
func newLogger(level config.LogLevel) (*zap.Logger, *util.LogBroadcastCore) {
	zapLevel := zapLevelFor(level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	stdoutCore := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapLevel)
	broadcastCore := util.NewLogBroadcastCore(zapLevel)

	core := zapcore.NewTee(stdoutCore, broadcastCore)
	logger := zap.New(core, zap.AddCaller())
	return logger, broadcastCore
}

func zapLevelFor(level config.LogLevel) zapcore.Level {
	switch level {
	case config.LogLevelTrace, config.LogLevelDebug:
		return zapcore.DebugLevel
	case config.LogLevelInfo:
		return zapcore.InfoLevel
	case config.LogLevelWarn:
		return zapcore.WarnLevel
	case config.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
