package tuya

import "strings"

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

// logAt logs msg at level if logger is set.
func logAt(logger Logger, level logLevel, msg string, keysAndValues ...any) {
	if logger == nil {
		return
	}
	switch level {
	case levelDebug:
		logger.Debug(msg, keysAndValues...)
	case levelInfo:
		logger.Info(msg, keysAndValues...)
	case levelWarn:
		logger.Warn(msg, keysAndValues...)
	default:
		logger.Error(msg, keysAndValues...)
	}
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "; ")
}

// fieldLogger prefixes every call with fixed key/value pairs.
type fieldLogger struct {
	next   Logger
	fields []any
}

// withFields returns a Logger that adds keysAndValues to every entry.
// A nil logger stays nil.
func withFields(logger Logger, keysAndValues ...any) Logger {
	if logger == nil {
		return nil
	}
	return &fieldLogger{next: logger, fields: keysAndValues}
}

func (l *fieldLogger) merge(kv []any) []any {
	out := make([]any, 0, len(l.fields)+len(kv))
	out = append(out, l.fields...)
	return append(out, kv...)
}

func (l *fieldLogger) Debug(msg string, kv ...any) { l.next.Debug(msg, l.merge(kv)...) }
func (l *fieldLogger) Info(msg string, kv ...any)  { l.next.Info(msg, l.merge(kv)...) }
func (l *fieldLogger) Warn(msg string, kv ...any)  { l.next.Warn(msg, l.merge(kv)...) }
func (l *fieldLogger) Error(msg string, kv ...any) { l.next.Error(msg, l.merge(kv)...) }
