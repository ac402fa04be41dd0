// Package audit writes authorization change events to the structured log.
package audit

import (
	"context"
	"maps"
	"strings"

	"github.com/sirupsen/logrus"

	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger records audit events as log entries with type=audit.
type Logger struct {
	log logrus.FieldLogger
}

var _ auth.Auditor = (*Logger)(nil)

// New returns an audit logger writing through l, or the shared logger when l is nil.
func New(l logrus.FieldLogger) *Logger {
	if l == nil {
		l = obs.Logger()
	}
	return &Logger{log: l}
}

// Record writes one entry enriched with the request id and acting subject
// found in ctx. Events with a blank name are dropped.
func (l *Logger) Record(ctx context.Context, event string, fields map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	entry := logrus.Fields{
		"type":   "audit",
		"event":  event,
		"fields": maps.Clone(fields),
	}
	if fields == nil {
		entry["fields"] = map[string]any{}
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if subject, ok := auth.SubjectFromContext(ctx); ok {
		entry["subject"] = subject
	}
	l.log.WithFields(entry).Info("audit")
}
