// Package memory provides an in-memory store implementation. It backs unit
// tests and dry runs; the SQLite store is the production implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
)

type eventKey struct {
	connectionID    string
	providerEventID string
}

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu          sync.Mutex
	connections map[string]*models.CalendarConnection
	events      map[eventKey]*models.ExternalCalendarEvent
	syncLogs    map[int64]*models.CalendarSyncLog
	webhooks    map[string]*models.WebhookChannel
	nextLogID   int64
	nextEventID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		connections: make(map[string]*models.CalendarConnection),
		events:      make(map[eventKey]*models.ExternalCalendarEvent),
		syncLogs:    make(map[int64]*models.CalendarSyncLog),
		webhooks:    make(map[string]*models.WebhookChannel),
	}
}

func (s *Store) GetConnection(_ context.Context, id string) (*models.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *conn
	return &c, nil
}

func (s *Store) ListActiveConnections(_ context.Context) ([]*models.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conns []*models.CalendarConnection
	for _, conn := range s.connections {
		if conn.IsActive {
			c := *conn
			conns = append(conns, &c)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns, nil
}

func (s *Store) ListConnections(_ context.Context) ([]*models.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conns []*models.CalendarConnection
	for _, conn := range s.connections {
		c := *conn
		conns = append(conns, &c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns, nil
}

func (s *Store) SaveConnection(_ context.Context, conn *models.CalendarConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conn
	if existing, ok := s.connections[conn.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()
	s.connections[conn.ID] = &c
	return nil
}

func (s *Store) DeleteConnection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.connections, id)

	// Cascade, matching the SQLite foreign keys.
	for k := range s.events {
		if k.connectionID == id {
			delete(s.events, k)
		}
	}
	for logID, l := range s.syncLogs {
		if l.ConnectionID == id {
			delete(s.syncLogs, logID)
		}
	}
	for chID, ch := range s.webhooks {
		if ch.ConnectionID == id {
			delete(s.webhooks, chID)
		}
	}
	return nil
}

func (s *Store) UpsertEvent(_ context.Context, ev *models.ExternalCalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{ev.ConnectionID, ev.Event.ProviderEventID}
	e := *ev
	if existing, ok := s.events[key]; ok {
		e.ID = existing.ID
	} else {
		s.nextEventID++
		e.ID = s.nextEventID
	}
	if e.LastSyncedAt.IsZero() {
		e.LastSyncedAt = time.Now().UTC()
	}
	s.events[key] = &e
	return nil
}

func (s *Store) GetEvent(_ context.Context, connectionID, providerEventID string) (*models.ExternalCalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventKey{connectionID, providerEventID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	e := *ev
	return &e, nil
}

func (s *Store) DeleteEvent(_ context.Context, connectionID, providerEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventKey{connectionID, providerEventID})
	return nil
}

func (s *Store) ListEventsInRange(_ context.Context, connectionID string, from, to time.Time) ([]*models.ExternalCalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*models.ExternalCalendarEvent
	for k, ev := range s.events {
		if k.connectionID != connectionID {
			continue
		}
		if ev.Event.Overlaps(from, to) {
			e := *ev
			events = append(events, &e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Event.StartTime.Before(events[j].Event.StartTime)
	})
	return events, nil
}

func (s *Store) DeleteEventsEndingBefore(_ context.Context, connectionID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ev := range s.events {
		if k.connectionID == connectionID && ev.Event.EndTime.Before(cutoff) {
			delete(s.events, k)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) StartSyncLog(_ context.Context, connectionID string, syncType models.SyncType) (*models.CalendarSyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.syncLogs {
		if l.ConnectionID == connectionID && l.Status == models.SyncStatusRunning {
			return nil, store.ErrSyncInProgress
		}
	}

	s.nextLogID++
	log := &models.CalendarSyncLog{
		ID:           s.nextLogID,
		ConnectionID: connectionID,
		SyncType:     syncType,
		Direction:    models.DirectionInbound,
		StartedAt:    time.Now().UTC(),
		Status:       models.SyncStatusRunning,
	}
	s.syncLogs[log.ID] = log
	l := *log
	return &l, nil
}

func (s *Store) CompleteSyncLog(_ context.Context, id int64, upserted, deleted int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.syncLogs[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	log.Status = models.SyncStatusCompleted
	log.CompletedAt = &now
	log.EventsUpserted = upserted
	log.EventsDeleted = deleted
	return nil
}

func (s *Store) FailSyncLog(_ context.Context, id int64, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.syncLogs[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	log.Status = models.SyncStatusFailed
	log.CompletedAt = &now
	log.ErrorCode = code
	log.ErrorMessage = message
	return nil
}

func (s *Store) LatestSyncLog(_ context.Context, connectionID string) (*models.CalendarSyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.CalendarSyncLog
	for _, l := range s.syncLogs {
		if l.ConnectionID != connectionID {
			continue
		}
		if latest == nil || l.ID > latest.ID {
			latest = l
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	l := *latest
	return &l, nil
}

func (s *Store) FailStaleSyncLogs(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	now := time.Now().UTC()
	for _, l := range s.syncLogs {
		if l.Status == models.SyncStatusRunning && l.StartedAt.Before(cutoff) {
			l.Status = models.SyncStatusFailed
			l.CompletedAt = &now
			l.ErrorMessage = "sync log abandoned"
			failed++
		}
	}
	return failed, nil
}

func (s *Store) SaveWebhookChannel(_ context.Context, ch *models.WebhookChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *ch
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.webhooks[ch.ID] = &c
	return nil
}

func (s *Store) GetWebhookChannel(_ context.Context, id string) (*models.WebhookChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.webhooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *ch
	return &c, nil
}

func (s *Store) DeleteWebhookChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.webhooks, id)
	return nil
}

func (s *Store) ListChannelsExpiringBefore(_ context.Context, t time.Time) ([]*models.WebhookChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chs []*models.WebhookChannel
	for _, ch := range s.webhooks {
		if ch.Expiration.Before(t) {
			c := *ch
			chs = append(chs, &c)
		}
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i].Expiration.Before(chs[j].Expiration) })
	return chs, nil
}

var _ store.Store = (*Store)(nil)
