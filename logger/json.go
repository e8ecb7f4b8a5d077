package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type jsonLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	w        io.Writer
	mu       *sync.Mutex
}

var _ Logger = (*jsonLogger)(nil)

// NewJSONLogger returns a Logger that writes one JSON object per line,
// suitable for ingestion by log collectors. If w is nil, stderr is used.
func NewJSONLogger(w io.Writer, levels ...LogLevel) Logger {
	if w == nil {
		w = os.Stderr
	}
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &jsonLogger{logLevel: level, w: w, mu: &sync.Mutex{}}
}

func (j *jsonLogger) clone() *jsonLogger {
	return &jsonLogger{
		prefixes: append([]string{}, j.prefixes...),
		metadata: mergeMetadata(j.metadata, nil),
		logLevel: j.logLevel,
		w:        j.w,
		mu:       j.mu,
	}
}

func (j *jsonLogger) With(metadata map[string]interface{}) Logger {
	clone := j.clone()
	clone.metadata = mergeMetadata(clone.metadata, metadata)
	return clone
}

func (j *jsonLogger) WithPrefix(prefix string) Logger {
	clone := j.clone()
	clone.prefixes = append(clone.prefixes, prefix)
	return clone
}

func (j *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= j.logLevel
}

func (j *jsonLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !j.IsLevelEnabled(level) {
		return
	}
	entry := map[string]interface{}{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": strings.ToLower(level.String()),
		"msg":   fmt.Sprintf(msg, args...),
	}
	if len(j.prefixes) > 0 {
		entry["prefix"] = strings.Join(j.prefixes, " ")
	}
	for k, v := range j.metadata {
		entry[k] = v
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return
	}
	j.mu.Lock()
	fmt.Fprintln(j.w, string(buf))
	j.mu.Unlock()
}

func (j *jsonLogger) Trace(msg string, args ...interface{}) {
	j.log(LevelTrace, msg, args...)
}

func (j *jsonLogger) Debug(msg string, args ...interface{}) {
	j.log(LevelDebug, msg, args...)
}

func (j *jsonLogger) Info(msg string, args ...interface{}) {
	j.log(LevelInfo, msg, args...)
}

func (j *jsonLogger) Warn(msg string, args ...interface{}) {
	j.log(LevelWarn, msg, args...)
}

func (j *jsonLogger) Error(msg string, args ...interface{}) {
	j.log(LevelError, msg, args...)
}
