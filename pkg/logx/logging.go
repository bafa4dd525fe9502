// Package logx is feedpush's thin structured-logging layer over zerolog.
// Console output stays human-readable (short timestamp, file:line caller),
// the optional file sink is JSON, and both level and sinks can be swapped
// at runtime when the config reloads.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Field adds one key/value pair to an event. Fields apply in order, so a
// repeated key takes its last value.
type Field func(e *zerolog.Event)

func String(k, v string) Field              { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field             { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field         { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Bool(k string, v bool) Field           { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Time(k string, v time.Time) Field      { return func(e *zerolog.Event) { e.Time(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger carries a root resolver plus fixed context fields. Loggers
// handed out by a Service keep following it through Apply calls. The
// zero value drops everything.
type Logger struct {
	resolve func() *zerolog.Logger
	ctx     []Field
}

var nopRoot = zerolog.Nop()

// Nop returns a logger that discards all output but is not IsZero,
// so components treat it as an explicitly provided logger.
func Nop() Logger {
	return Logger{resolve: func() *zerolog.Logger { return &nopRoot }}
}

func (l Logger) IsZero() bool { return l.resolve == nil && len(l.ctx) == 0 }

// With returns a copy of l that attaches the given fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.ctx)+len(fields))
	merged = append(merged, l.ctx...)
	merged = append(merged, fields...)
	return Logger{resolve: l.resolve, ctx: merged}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(lvl zerolog.Level, msg string, fields []Field) {
	if l.resolve == nil {
		return
	}
	e := l.resolve().WithLevel(lvl)
	if e == nil {
		return
	}
	if at := callSite(3); at != "" {
		e.Str(zerolog.CallerFieldName, at)
	}
	for _, f := range l.ctx {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// callSite reports the caller as base-filename:line, skipping the logx
// frames themselves.
func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Service owns the log sinks. Apply rebuilds them from config while
// every Logger derived from the Service keeps working.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
}

// New builds the service and immediately applies cfg. The returned
// Logger is the root; derive component loggers from it with With.
func New(cfg Config) (*Service, Logger) {
	zerolog.TimeFieldFormat = timeLayout
	zerolog.ErrorFieldName = "err"

	s := &Service{}
	s.root.Store(&nopRoot)
	s.Apply(cfg)
	return s, Logger{resolve: s.root.Load}
}

// Apply swaps level and sinks at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink())
	}

	var nextFile *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./feedpush.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: cannot open log file %q: %v\n", path, err)
		} else {
			nextFile = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink())
	}

	root := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.root.Store(&root)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = nextFile
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func consoleSink() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: timeLayout,
		FormatCaller: func(v interface{}) string {
			// Already shortened by callSite.
			s, _ := v.(string)
			return s
		},
	}
}

var levelNames = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

func parseLevel(s string) zerolog.Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}
