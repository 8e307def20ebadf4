package logger

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(DefaultOptions()))
}

// GetDefault returns the logger used when a context carries none.
func GetDefault() *Logger {
	return defaultLogger.Load()
}

// SetDefaultLogger replaces the default logger. A nil l is ignored.
func SetDefaultLogger(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// WithContext returns a copy of ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithFields returns a copy of ctx whose logger has fields added.
// Every log line written through the returned context carries them.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

func withField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// SetRequestID tags ctx with the HTTP request ID.
func SetRequestID(ctx context.Context, id string) context.Context {
	return withField(ctx, FieldRequestID, id)
}

// SetAnalysisID tags ctx with the analysis job ID.
func SetAnalysisID(ctx context.Context, id string) context.Context {
	return withField(ctx, FieldAnalysisID, id)
}

// SetComponent tags ctx with the component name.
func SetComponent(ctx context.Context, name string) context.Context {
	return withField(ctx, FieldComponent, name)
}

// SetStage tags ctx with the running pipeline stage.
func SetStage(ctx context.Context, stage string) context.Context {
	return withField(ctx, FieldStage, stage)
}

// GetRequestID returns the request ID carried by ctx, if any.
func GetRequestID(ctx context.Context) string {
	return stringField(ctx, FieldRequestID)
}

// GetAnalysisID returns the analysis ID carried by ctx, if any.
func GetAnalysisID(ctx context.Context) string {
	return stringField(ctx, FieldAnalysisID)
}

func stringField(ctx context.Context, key string) string {
	s, _ := FromContext(ctx).Data[key].(string)
	return s
}
