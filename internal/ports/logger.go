package ports

import "context"

// Logger is the structured logging surface shared by services and adapters.
// Fields are optional key/value maps merged into the entry; implementations
// choose the sink and format.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error attaches err to the entry in addition to any fields.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
