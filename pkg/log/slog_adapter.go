package log

import (
	"context"
	"log/slog"
)

// SlogAdapter renders protocol events as slog records. Error events are
// logged at Warn, everything else at Debug. The payload of each event is
// grouped under its category name.
type SlogAdapter struct {
	logger *slog.Logger
}

func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	if event.Category == CategoryError {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("conn_id", event.ConnectionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)
	if event.Category == CategoryMessage || event.Category == CategoryControl {
		attrs = append(attrs, slog.String("direction", event.Direction.String()))
	}
	if event.LocalRole != RoleUnknown {
		attrs = append(attrs, slog.String("role", event.LocalRole.String()))
	}
	if event.PeerID != "" {
		attrs = append(attrs, slog.String("peer_id", event.PeerID))
	}
	if p, ok := payload(event); ok {
		attrs = append(attrs, p)
	}

	a.logger.LogAttrs(ctx, level, "protocol", attrs...)
}

func payload(event Event) (slog.Attr, bool) {
	group := func(key string, kv ...any) (slog.Attr, bool) {
		return slog.Group(key, kv...), true
	}
	optional := func(kv []any, key, v string) []any {
		if v != "" {
			kv = append(kv, key, v)
		}
		return kv
	}

	switch {
	case event.Frame != nil:
		return group("frame", "size", event.Frame.Size, "truncated", event.Frame.Truncated)
	case event.Message != nil:
		m := event.Message
		return group("message", "type", m.Type.String(), "summary", m.Summary, "payload_size", m.PayloadSize)
	case event.StateChange != nil:
		sc := event.StateChange
		kv := []any{"entity", sc.Entity.String(), "from", sc.OldState, "to", sc.NewState}
		return group("state", optional(kv, "reason", sc.Reason)...)
	case event.ControlMsg != nil:
		kv := []any{"type", event.ControlMsg.Type.String()}
		if event.ControlMsg.CloseCode != nil {
			kv = append(kv, "close_code", *event.ControlMsg.CloseCode)
		}
		return group("control", kv...)
	case event.Error != nil:
		e := event.Error
		kv := optional([]any{"layer", e.Layer.String(), "msg", e.Message}, "kind", e.Kind)
		return group("error", optional(kv, "context", e.Context)...)
	}
	return slog.Attr{}, false
}

var _ Logger = (*SlogAdapter)(nil)
