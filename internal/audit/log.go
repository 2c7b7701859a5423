// Package audit writes the who-did-what trail: logins, logouts, submission
// outcomes and rollbacks, each tied to the request and device that caused
// them.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"incidencia/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	deviceIDKey  ctxKey = "audit_device_id"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithDeviceID attaches the calling device's identifier to the context.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

func fromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and device context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := fromContext(ctx, requestIDKey); rid != "" {
		entry["request_id"] = rid
	}
	if did := fromContext(ctx, deviceIDKey); did != "" {
		entry["device_id"] = did
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
