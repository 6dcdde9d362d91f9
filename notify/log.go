package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to a logger instead of sending them. Codes and
// links are only logged when IncludeSecrets is set, which is meant for local
// development.
type LogNotifier struct {
	Logger         *slog.Logger
	IncludeSecrets bool
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", string(msg.Kind),
		"delivery", string(msg.Delivery),
		"to", mask(msg.Recipient()),
	}
	if n.IncludeSecrets {
		attrs = append(attrs, "code", msg.Code, "link", msg.Link, "glid", msg.GLID)
	}
	logger.InfoContext(ctx, "notification", attrs...)
	return nil
}

// mask keeps the first two and last two characters of v.
func mask(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	out := []byte(v)
	for i := 2; i < len(out)-2; i++ {
		out[i] = '*'
	}
	return string(out)
}
