package observability

import (
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const privateKey = "transcript.private"

// Private marks a log line (or a child logger) as diagnostic only: it reaches
// the process log but never the run transcript shown to the model.
func Private() zap.Field {
	return zap.Field{Key: privateKey, Type: zapcore.SkipType}
}

type runBuffer struct {
	mu      sync.Mutex
	entries []string
}

// RunLog is the append-only transcript of one run. It is a zapcore.Core so
// a run logger can tee into it; every component of the run receives that
// logger explicitly.
type RunLog struct {
	buf     *runBuffer
	enc     zapcore.Encoder
	private bool
}

var _ zapcore.Core = (*RunLog)(nil)

func NewRunLog() *RunLog {
	return &RunLog{
		buf: &runBuffer{},
		enc: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:       "msg",
			LevelKey:         "level",
			EncodeLevel:      zapcore.CapitalLevelEncoder,
			ConsoleSeparator: " ",
		}),
	}
}

// Attach returns base teed into the transcript.
func (r *RunLog) Attach(base *zap.Logger) *zap.Logger {
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, r)
	}))
}

func (r *RunLog) Enabled(l zapcore.Level) bool {
	return l >= zapcore.InfoLevel
}

func (r *RunLog) With(fields []zapcore.Field) zapcore.Core {
	clone := &RunLog{buf: r.buf, enc: r.enc.Clone(), private: r.private}
	for _, f := range fields {
		if f.Key == privateKey {
			clone.private = true
			continue
		}
		f.AddTo(clone.enc)
	}
	return clone
}

func (r *RunLog) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if r.Enabled(ent.Level) {
		return ce.AddCore(ent, r)
	}
	return ce
}

func (r *RunLog) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if r.private {
		return nil
	}
	for _, f := range fields {
		if f.Key == privateKey {
			return nil
		}
	}
	b, err := r.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(b.String(), "\n")
	b.Free()

	r.buf.mu.Lock()
	r.buf.entries = append(r.buf.entries, line)
	r.buf.mu.Unlock()
	return nil
}

func (r *RunLog) Sync() error { return nil }

// Entries returns a copy of every transcript line so far.
func (r *RunLog) Entries() []string {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	out := make([]string, len(r.buf.entries))
	copy(out, r.buf.entries)
	return out
}

// Len is the number of transcript lines.
func (r *RunLog) Len() int {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	return len(r.buf.entries)
}

// Window returns the most recent lines whose joined length fits maxChars.
// When even the newest line is too long, its tail is returned instead.
// maxChars <= 0 returns everything.
func (r *RunLog) Window(maxChars int) string {
	entries := r.Entries()
	if maxChars <= 0 {
		return strings.Join(entries, "\n")
	}
	start, size := len(entries), 0
	for start > 0 {
		n := len(entries[start-1]) + 1
		if size+n > maxChars {
			break
		}
		size += n
		start--
	}
	if start == len(entries) && start > 0 {
		return tail(entries[start-1], maxChars)
	}
	return strings.Join(entries[start:], "\n")
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
