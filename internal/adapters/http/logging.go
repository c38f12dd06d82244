package http

import (
	"context"
	"log/slog"
)

func httpLogger() *slog.Logger {
	return slog.Default().With("module", "http", "layer", "adapter")
}

// logAtStatus picks the level from the response status: 5xx is an error,
// 4xx a warning.
func logAtStatus(ctx context.Context, statusCode int, msg string, fields ...any) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}
	httpLogger().Log(ctx, level, msg, fields...)
}

// tenantFields tags a log line with the caller once authMiddleware has run.
func tenantFields(ctx context.Context) []any {
	fields := []any{"request_id", requestIDFromContext(ctx)}
	principal, ok := principalFromContext(ctx)
	if !ok {
		return fields
	}
	fields = append(fields, "user_id", principal.UserID.String())
	if principal.SchoolCode != "" {
		fields = append(fields, "school_code", principal.SchoolCode)
	}
	return fields
}

func logHTTPOperationError(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	fields := append([]any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
	}, tenantFields(ctx)...)
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	logAtStatus(ctx, statusCode, "http operation failed", fields...)
}
