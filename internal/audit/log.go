// Package audit emits the operational audit trail for the auth layer:
// key creation/revocation, ticket issuance, and — at elevated severity —
// breakglass and emergency logins, which bypass normal credential
// management and must be visible to operators.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fieldstack.io/internal/obs"
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

// LogEvent writes an audit entry at level=info.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, "info", event, fields)
}

// LogAlert writes an audit entry at level=warn. Used for breakglass and
// emergency logins so they stand out on the operational channel.
func LogAlert(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, "warn", event, fields)
}

func write(ctx context.Context, level, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"level": level,
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
