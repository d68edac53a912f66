package observability

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rahul/planloop/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType defines the category of a log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeCommand     EventType = "command"
	EventTypeObservation EventType = "observation"
	EventTypeDecision    EventType = "decision"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
	EventTypeRAG         EventType = "rag"
)

// Event tags a log line with its category.
func Event(t EventType) zap.Field {
	return zap.String("event", string(t))
}

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// Initialize builds the process logger once: a console or JSON core on w,
// teed with a rotating JSON file when cfg.File is set.
func Initialize(cfg config.LogConfig, w zapcore.WriteSyncer) *zap.Logger {
	once.Do(func() {
		globalLogger.Store(NewLogger(cfg, w))
	})
	return GetLogger()
}

// NewLogger builds a logger without touching the global one.
func NewLogger(cfg config.LogConfig, w zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), w, level)}
	if cfg.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), fileWriter, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("planloop")
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// GetLogger returns the process logger, or a no-op logger before Initialize.
func GetLogger() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// InitializeStdout is Initialize on a locked stdout.
func InitializeStdout(cfg config.LogConfig) *zap.Logger {
	return Initialize(cfg, zapcore.Lock(os.Stdout))
}

// JournalEntry is one completion exchange.
type JournalEntry struct {
	RunID    string
	Provider string
	Model    string
	Prompt   any
	Response string
	JSONMode bool
	HasImage bool
	Duration time.Duration
	Err      error
}

// Journal appends every completion exchange to a rotating JSON-lines file.
type Journal struct {
	logger *zap.Logger
}

// NewJournal opens a journal at path. An empty path yields a no-op journal.
func NewJournal(path string, maxSizeMB int) *Journal {
	if path == "" {
		return &Journal{logger: zap.NewNop()}
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	w := zapcore.AddSync(&lumberjack.Logger{Filename: path, MaxSize: maxSizeMB, MaxBackups: 1})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(ec), w, zap.DebugLevel)
	return &Journal{logger: zap.New(core)}
}

// Record writes e. Nil journals are ignored.
func (j *Journal) Record(e JournalEntry) {
	if j == nil {
		return
	}
	fields := []zap.Field{
		Event(EventTypeLLM),
		zap.String("run_id", e.RunID),
		zap.String("provider", e.Provider),
		zap.String("model", e.Model),
		zap.Any("prompt", e.Prompt),
		zap.String("response", e.Response),
		zap.Bool("json_mode", e.JSONMode),
		zap.Bool("image", e.HasImage),
		zap.Duration("duration", e.Duration),
	}
	if e.Err != nil {
		j.logger.Error("completion failed", append(fields, zap.Error(e.Err))...)
		return
	}
	j.logger.Info("completion", fields...)
}

// Sync flushes the journal file.
func (j *Journal) Sync() error {
	if j == nil {
		return nil
	}
	return j.logger.Sync()
}
