// Copyright 2025 The OddBox Authors
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

package util

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// LogLine is a single rendered log entry ready for shipment to
// subscribers (e.g. the terminal UI or the admin WebSocket).
type LogLine struct {
	Entry  zapcore.Entry
	Fields []zapcore.Field
}

// LogBroadcastCore is a zapcore.Core that fans every log entry out to a
// bounded set of subscriber channels, in addition to letting it continue
// through the rest of the normal zap pipeline. Subscribers that fall
// behind have their oldest buffered line dropped rather than blocking
// the logger, matching the observer's own broadcast back-pressure rule.
type LogBroadcastCore struct {
	mu          sync.Mutex
	level       zapcore.LevelEnabler
	subscribers map[int]chan LogLine
	nextID      int
}

func NewLogBroadcastCore(level zapcore.LevelEnabler) *LogBroadcastCore {
	return &LogBroadcastCore{
		level:       level,
		subscribers: make(map[int]chan LogLine),
	}
}

// Subscribe registers a new listener and returns its channel along with
// an unsubscribe function. The returned channel is closed by the
// unsubscribe function, never by the broadcaster itself.
func (c *LogBroadcastCore) Subscribe(capacity int) (<-chan LogLine, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan LogLine, capacity)
	c.subscribers[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(existing)
		}
	}
}

func (c *LogBroadcastCore) Enabled(lvl zapcore.Level) bool { return c.level.Enabled(lvl) }

func (c *LogBroadcastCore) With([]zapcore.Field) zapcore.Core { return c }

func (c *LogBroadcastCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *LogBroadcastCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line := LogLine{Entry: entry, Fields: fields}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- line:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- line:
			default:
			}
		}
	}
	return nil
}

func (c *LogBroadcastCore) Sync() error { return nil }

var _ zapcore.Core = (*LogBroadcastCore)(nil)
