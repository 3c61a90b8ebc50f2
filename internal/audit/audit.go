package audit

import (
	"context"
	"time"

	"astromech/internal/storage"

	"go.uber.org/zap"
)

// Moderation events recorded in the audit trail.
const (
	EventMessageRelayed   = "message_relayed"
	EventDeleteSuppressed = "delete_suppressed"
	EventFilterBlock      = "filter_block"
	EventWipe             = "wipe"
	EventTerminate        = "terminate"
	EventMute             = "mute"
	EventBoom             = "boom"
	EventConfigReload     = "config_reload"
	EventShutdown         = "shutdown"
)

// Logger persists moderation events and mirrors them to the process log.
type Logger struct {
	store  *storage.Store
	logger *zap.Logger
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) Log(ctx context.Context, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", zap.Error(err))
		}
	}
	l.logger.Info("audit", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
