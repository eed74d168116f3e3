package main

import (
	"context"

	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// sqlBackedStore composes an in-memory WorldStore/AgentStore/ChatStore with
// a SQL-backed EventStore: world/agent/chat metadata does not yet have a SQL
// implementation (see DESIGN.md), but the event log, which is the append-only
// audit trail clients replay on reconnect, is durable.
type sqlBackedStore struct {
	*storage.MemoryStore
	events *storage.SQLEventStore
}

func newSQLBackedStore(events *storage.SQLEventStore) *sqlBackedStore {
	return &sqlBackedStore{MemoryStore: storage.NewMemoryStore(), events: events}
}

func (s *sqlBackedStore) AppendEvent(ctx context.Context, e models.StoredEvent) error {
	return s.events.AppendEvent(ctx, e)
}

func (s *sqlBackedStore) GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) ([]models.StoredEvent, error) {
	return s.events.GetEventsByWorldAndChat(ctx, worldID, chatID)
}

var _ storage.API = (*sqlBackedStore)(nil)
