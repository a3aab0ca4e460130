package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at Debug level,
// errors at Warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("attempt", event.AttemptID),
		slog.String("role", event.LocalRole.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.PeerAddr != "" {
		attrs = append(attrs, slog.String("addr", event.PeerAddr))
	}
	if event.Transport != "" {
		attrs = append(attrs, slog.String("transport", event.Transport))
	}

	level := slog.LevelDebug
	switch {
	case event.PDU != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("pdu", event.PDU.Name),
			slog.Int("size", event.PDU.Size),
		)
		if !event.PDU.Redacted && len(event.PDU.Data) > 0 {
			attrs = append(attrs, slog.String("data", hex.EncodeToString(event.PDU.Data)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Model != "" {
			attrs = append(attrs,
				slog.String("model", event.StateChange.Model),
				slog.Bool("sc", event.StateChange.SecureConnections),
			)
		}
	case event.Key != nil:
		attrs = append(attrs,
			slog.String("key", event.Key.Kind),
			slog.Bool("local", event.Key.Local),
		)
		if event.Key.Size > 0 {
			attrs = append(attrs, slog.Int("key_size", event.Key.Size))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error", event.Error.Message),
			slog.Int("reason", int(event.Error.Reason)),
			slog.Bool("remote", event.Error.Remote),
		)
	}

	a.logger.LogAttrs(context.Background(), level, "smp", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
