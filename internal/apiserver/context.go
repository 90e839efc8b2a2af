package apiserver

import "context"

type contextKey string

const (
	deviceIDContextKey contextKey = "device_id"
	adminSubjectContextKey contextKey = "admin_subject"
)

func withDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey, id)
}

func deviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceIDContextKey).(string)
	return id, ok
}

func withAdminSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, adminSubjectContextKey, subject)
}
