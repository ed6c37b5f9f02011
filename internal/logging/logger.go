// Package logging provides the leveled, tag-scoped logger used throughout
// the connectivity and security-plane packages (internal/mux,
// internal/turn, internal/ice, internal/dtls and the root session). It also
// backs the adapter in dtlslog.go that lets github.com/pion/dtls/v2 log
// through the same sink.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger writes leveled, tagged log lines to an io.Writer. Derived loggers
// (WithTag) share the parent's mutex so interleaved goroutines never tear
// a line in half.
type Logger struct {
	Level

	Tag string

	out io.Writer
	mu  *sync.Mutex
}

// DefaultLogger writes to stderr at the level selected by LOGLEVEL.
var DefaultLogger = &Logger{defaultLevel, "", os.Stderr, new(sync.Mutex)}

func (log *Logger) SetDestination(out io.Writer) {
	log.out = out
}

// WithTag derives a child logger scoped to tag, honoring any per-tag
// LOGLEVEL override.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{determineLevel(tag, log.Level), tag, log.out, log.mu}
}

func (log *Logger) WithDefaultLevel(level Level) *Logger {
	return &Logger{determineLevel(log.Tag, level), log.Tag, log.out, log.mu}
}

// buffer is a minimal []byte wrapper implementing io.Writer; cheaper than
// bytes.Buffer for the append-only use here.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 256)
	},
}

// Log writes a message at the given level, attributing it to the caller
// calldepth frames up the stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level {
		return
	}

	buf := bufPool.Get().(buffer)
	defer bufPool.Put(buf[:0])

	buf.Write(ansiWhite)
	buf = time.Now().AppendFormat(buf, timestampFormat)
	fmt.Fprintf(&buf, " %s%c/%s", level.color(), level.letter(), log.Tag)

	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}
	fmt.Fprintf(&buf, "[%s:%d] %s", filepath.Base(file), line, ansiReset)
	fmt.Fprintf(&buf, format, a...)

	if n := len(format); n == 0 || format[n-1] != '\n' {
		buf.writeByte('\n')
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if _, err := log.out.Write(buf); err != nil {
		panic(fmt.Sprintf("logging: write to %v failed: %v", log.out, err))
	}
}

func (log *Logger) Error(format string, a ...interface{}) { log.Log(Error, 1, format, a...) }
func (log *Logger) Warn(format string, a ...interface{})  { log.Log(Warn, 1, format, a...) }
func (log *Logger) Info(format string, a ...interface{})  { log.Log(Info, 1, format, a...) }
func (log *Logger) Debug(format string, a ...interface{}) { log.Log(Debug, 1, format, a...) }
func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
