// Package sqlite is the production implementation of the engine's store,
// backed by a single SQLite database with embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
	"github.com/cadencehq/calsync/internal/store/sqlite/migrations"
)

// timeFormat is how timestamps are stored. The fractional second is padded to
// a fixed width so the stored strings compare lexicographically; RFC3339Nano
// drops trailing zeros and would misorder values within the same second.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and applies migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(data)); err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	// Lenient on read: accepts both the padded form and plain RFC 3339
	// written by earlier versions.
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// --- connections ---

const connectionColumns = `id, user_id, provider, calendar_id, email,
	access_token, refresh_token, token_expiry, sync_cursor,
	last_full_sync_at, last_incremental_sync_at, is_active, is_default,
	consecutive_failures, last_error, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.CalendarConnection, error) {
	var conn models.CalendarConnection
	var provider string
	var tokenExpiry, lastFull, lastIncr sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&conn.ID, &conn.UserID, &provider, &conn.CalendarID, &conn.Email,
		&conn.AccessToken, &conn.RefreshToken, &tokenExpiry, &conn.SyncCursor,
		&lastFull, &lastIncr, &conn.IsActive, &conn.IsDefault,
		&conn.ConsecutiveFailures, &conn.LastError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	conn.Provider = models.Provider(provider)
	if tokenExpiry.Valid {
		conn.TokenExpiry = parseTime(tokenExpiry.String)
	}
	conn.LastFullSyncAt = parseTimePtr(lastFull)
	conn.LastIncrementalSyncAt = parseTimePtr(lastIncr)
	conn.CreatedAt = parseTime(createdAt)
	conn.UpdatedAt = parseTime(updatedAt)
	return &conn, nil
}

func (s *Store) GetConnection(ctx context.Context, id string) (*models.CalendarConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM calendar_connections WHERE id = ?`, id)
	return scanConnection(row)
}

func (s *Store) ListActiveConnections(ctx context.Context) ([]*models.CalendarConnection, error) {
	return s.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM calendar_connections WHERE is_active = 1 ORDER BY id`)
}

func (s *Store) ListConnections(ctx context.Context) ([]*models.CalendarConnection, error) {
	return s.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM calendar_connections ORDER BY id`)
}

func (s *Store) listConnections(ctx context.Context, query string) ([]*models.CalendarConnection, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.CalendarConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (s *Store) SaveConnection(ctx context.Context, conn *models.CalendarConnection) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_connections (
			id, user_id, provider, calendar_id, email,
			access_token, refresh_token, token_expiry, sync_cursor,
			last_full_sync_at, last_incremental_sync_at, is_active, is_default,
			consecutive_failures, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			provider = excluded.provider,
			calendar_id = excluded.calendar_id,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			sync_cursor = excluded.sync_cursor,
			last_full_sync_at = excluded.last_full_sync_at,
			last_incremental_sync_at = excluded.last_incremental_sync_at,
			is_active = excluded.is_active,
			is_default = excluded.is_default,
			consecutive_failures = excluded.consecutive_failures,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		conn.ID, conn.UserID, string(conn.Provider), conn.CalendarID, conn.Email,
		conn.AccessToken, conn.RefreshToken, formatTime(conn.TokenExpiry), conn.SyncCursor,
		formatTimePtr(conn.LastFullSyncAt), formatTimePtr(conn.LastIncrementalSyncAt),
		conn.IsActive, conn.IsDefault,
		conn.ConsecutiveFailures, conn.LastError, now, now)
	if err != nil {
		return fmt.Errorf("saving connection %s: %w", conn.ID, err)
	}
	return nil
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- events ---

const eventColumns = `id, connection_id, provider_event_id, calendar_id, title,
	description, location, start_time, end_time, timezone, all_day,
	status, show_as, organizer_email, organizer_name, attendees,
	recurrence_rule, raw_payload, last_synced_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.ExternalCalendarEvent, error) {
	var ev models.ExternalCalendarEvent
	var start, end, lastSynced string
	var status, showAs, attendees, raw string

	err := row.Scan(&ev.ID, &ev.ConnectionID, &ev.Event.ProviderEventID, &ev.Event.CalendarID,
		&ev.Event.Title, &ev.Event.Description, &ev.Event.Location,
		&start, &end, &ev.Event.Timezone, &ev.Event.AllDay,
		&status, &showAs, &ev.Event.OrganizerEmail, &ev.Event.OrganizerName,
		&attendees, &ev.Event.RecurrenceRule, &raw, &lastSynced)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	ev.Event.StartTime = parseTime(start)
	ev.Event.EndTime = parseTime(end)
	ev.Event.Status = models.EventStatus(status)
	ev.Event.ShowAs = models.ShowAs(showAs)
	ev.LastSyncedAt = parseTime(lastSynced)
	if attendees != "" && attendees != "[]" {
		if err := json.Unmarshal([]byte(attendees), &ev.Event.Attendees); err != nil {
			return nil, fmt.Errorf("decoding attendees: %w", err)
		}
	}
	if raw != "" {
		ev.Event.Raw = json.RawMessage(raw)
	}
	return &ev, nil
}

func (s *Store) UpsertEvent(ctx context.Context, ev *models.ExternalCalendarEvent) error {
	attendees, err := json.Marshal(ev.Event.Attendees)
	if err != nil {
		return fmt.Errorf("encoding attendees: %w", err)
	}
	if ev.LastSyncedAt.IsZero() {
		ev.LastSyncedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO external_calendar_events (
			connection_id, provider_event_id, calendar_id, title,
			description, location, start_time, end_time, timezone, all_day,
			status, show_as, organizer_email, organizer_name, attendees,
			recurrence_rule, raw_payload, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (connection_id, provider_event_id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			timezone = excluded.timezone,
			all_day = excluded.all_day,
			status = excluded.status,
			show_as = excluded.show_as,
			organizer_email = excluded.organizer_email,
			organizer_name = excluded.organizer_name,
			attendees = excluded.attendees,
			recurrence_rule = excluded.recurrence_rule,
			raw_payload = excluded.raw_payload,
			last_synced_at = excluded.last_synced_at`,
		ev.ConnectionID, ev.Event.ProviderEventID, ev.Event.CalendarID, ev.Event.Title,
		ev.Event.Description, ev.Event.Location,
		formatTime(ev.Event.StartTime), formatTime(ev.Event.EndTime),
		ev.Event.Timezone, ev.Event.AllDay,
		string(ev.Event.Status), string(ev.Event.ShowAs),
		ev.Event.OrganizerEmail, ev.Event.OrganizerName, string(attendees),
		ev.Event.RecurrenceRule, string(ev.Event.Raw), formatTime(ev.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("upserting event %s: %w", ev.Event.ProviderEventID, err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, connectionID, providerEventID string) (*models.ExternalCalendarEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM external_calendar_events
		 WHERE connection_id = ? AND provider_event_id = ?`,
		connectionID, providerEventID)
	return scanEvent(row)
}

func (s *Store) DeleteEvent(ctx context.Context, connectionID, providerEventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM external_calendar_events
		 WHERE connection_id = ? AND provider_event_id = ?`,
		connectionID, providerEventID)
	return err
}

func (s *Store) ListEventsInRange(ctx context.Context, connectionID string, from, to time.Time) ([]*models.ExternalCalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM external_calendar_events
		 WHERE connection_id = ? AND start_time < ? AND end_time > ?
		 ORDER BY start_time`,
		connectionID, formatTime(to), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.ExternalCalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) DeleteEventsEndingBefore(ctx context.Context, connectionID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM external_calendar_events
		 WHERE connection_id = ? AND end_time < ?`,
		connectionID, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- sync logs ---

func (s *Store) StartSyncLog(ctx context.Context, connectionID string, syncType models.SyncType) (*models.CalendarSyncLog, error) {
	started := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_sync_logs (connection_id, sync_type, direction, started_at, status)
		 VALUES (?, ?, ?, ?, ?)`,
		connectionID, string(syncType), string(models.DirectionInbound),
		formatTime(started), string(models.SyncStatusRunning))
	if err != nil {
		// The partial unique index on running logs serializes syncs.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, store.ErrSyncInProgress
		}
		return nil, fmt.Errorf("starting sync log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.CalendarSyncLog{
		ID:           id,
		ConnectionID: connectionID,
		SyncType:     syncType,
		Direction:    models.DirectionInbound,
		StartedAt:    started,
		Status:       models.SyncStatusRunning,
	}, nil
}

func (s *Store) CompleteSyncLog(ctx context.Context, id int64, upserted, deleted int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_sync_logs
		 SET status = ?, completed_at = ?, events_upserted = ?, events_deleted = ?
		 WHERE id = ?`,
		string(models.SyncStatusCompleted), formatTime(time.Now()), upserted, deleted, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FailSyncLog(ctx context.Context, id int64, code, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_sync_logs
		 SET status = ?, completed_at = ?, error_code = ?, error_message = ?
		 WHERE id = ?`,
		string(models.SyncStatusFailed), formatTime(time.Now()), code, message, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) LatestSyncLog(ctx context.Context, connectionID string) (*models.CalendarSyncLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, connection_id, sync_type, direction, started_at, completed_at,
		        status, error_code, error_message, events_upserted, events_deleted
		 FROM calendar_sync_logs WHERE connection_id = ?
		 ORDER BY id DESC LIMIT 1`, connectionID)

	var log models.CalendarSyncLog
	var syncType, direction, status, started string
	var completed sql.NullString
	err := row.Scan(&log.ID, &log.ConnectionID, &syncType, &direction, &started,
		&completed, &status, &log.ErrorCode, &log.ErrorMessage,
		&log.EventsUpserted, &log.EventsDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	log.SyncType = models.SyncType(syncType)
	log.Direction = models.SyncDirection(direction)
	log.Status = models.SyncStatus(status)
	log.StartedAt = parseTime(started)
	log.CompletedAt = parseTimePtr(completed)
	return &log, nil
}

func (s *Store) FailStaleSyncLogs(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_sync_logs
		 SET status = ?, completed_at = ?, error_message = 'sync log abandoned'
		 WHERE status = ? AND started_at < ?`,
		string(models.SyncStatusFailed), formatTime(time.Now()),
		string(models.SyncStatusRunning), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- webhook channels ---

func (s *Store) SaveWebhookChannel(ctx context.Context, ch *models.WebhookChannel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_channels (
			id, connection_id, resource, notification_url, expiration,
			resource_id, client_state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			resource = excluded.resource,
			notification_url = excluded.notification_url,
			expiration = excluded.expiration,
			resource_id = excluded.resource_id,
			client_state = excluded.client_state`,
		ch.ID, ch.ConnectionID, ch.Resource, ch.NotificationURL,
		formatTime(ch.Expiration), ch.ResourceID, ch.ClientState, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving webhook channel %s: %w", ch.ID, err)
	}
	return nil
}

func (s *Store) GetWebhookChannel(ctx context.Context, id string) (*models.WebhookChannel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, connection_id, resource, notification_url, expiration,
		        resource_id, client_state, created_at
		 FROM webhook_channels WHERE id = ?`, id)

	var ch models.WebhookChannel
	var expiration, createdAt string
	err := row.Scan(&ch.ID, &ch.ConnectionID, &ch.Resource, &ch.NotificationURL,
		&expiration, &ch.ResourceID, &ch.ClientState, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	ch.Expiration = parseTime(expiration)
	ch.CreatedAt = parseTime(createdAt)
	return &ch, nil
}

func (s *Store) DeleteWebhookChannel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_channels WHERE id = ?`, id)
	return err
}

func (s *Store) ListChannelsExpiringBefore(ctx context.Context, t time.Time) ([]*models.WebhookChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, connection_id, resource, notification_url, expiration,
		        resource_id, client_state, created_at
		 FROM webhook_channels WHERE expiration < ? ORDER BY expiration`,
		formatTime(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*models.WebhookChannel
	for rows.Next() {
		var ch models.WebhookChannel
		var expiration, createdAt string
		if err := rows.Scan(&ch.ID, &ch.ConnectionID, &ch.Resource, &ch.NotificationURL,
			&expiration, &ch.ResourceID, &ch.ClientState, &createdAt); err != nil {
			return nil, err
		}
		ch.Expiration = parseTime(expiration)
		ch.CreatedAt = parseTime(createdAt)
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

var _ store.Store = (*Store)(nil)
