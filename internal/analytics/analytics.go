package analytics

import (
	"context"
	"time"

	"astromech/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total   int
	ByEvent map[string]int
}

// Report aggregates audit-trail entries for a guild since the given time.
func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByEvent[log.Event]++
	}
	return report, nil
}
