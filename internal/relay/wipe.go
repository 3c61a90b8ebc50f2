package relay

import (
	"context"
	"fmt"

	"astromech/internal/audit"

	"go.uber.org/zap"
)

// Wipe deletes the invoker's messages from recent channel history, at most
// scanLimit messages deep. Every id is marked in the suppression set before
// its delete is issued, so the delete relay never re-logs a wipe; a mark is
// withdrawn again when the delete fails.
func (p *Pipeline) Wipe(ctx context.Context, guildID, channelID, invokerID string, scanLimit int) (int, error) {
	history, err := p.platform.MessageHistory(ctx, channelID, scanLimit)
	if err != nil {
		return 0, fmt.Errorf("history scan: %w", err)
	}

	deleted := 0
	for _, msg := range history {
		if msg.AuthorID != invokerID {
			continue
		}
		p.suppressed.Mark(msg.ID)
		if err := p.platform.DeleteMessage(ctx, channelID, msg.ID); err != nil {
			p.suppressed.Unmark(msg.ID)
			p.logger.Warn("wipe delete failed", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		deleted++
	}

	p.audit.Log(ctx, guildID, invokerID, audit.EventWipe, fmt.Sprintf("channel_id=%s count=%d", channelID, deleted))
	return deleted, nil
}
