package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
	"github.com/cadencehq/calsync/internal/store/memory"
)

// fakeService scripts ListEvents responses; everything else is unused by the
// engine.
type fakeService struct {
	listEvents func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error)
	calls      []ListEventsParams
}

func (f *fakeService) Provider() models.Provider { return models.ProviderGoogle }

func (f *fakeService) ListEvents(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
	f.calls = append(f.calls, params)
	return f.listEvents(ctx, params)
}

func (f *fakeService) ValidateConnection(context.Context, string) (bool, error) { return true, nil }
func (f *fakeService) RefreshTokens(context.Context, string) error              { return nil }
func (f *fakeService) CreateEvent(context.Context, string, *models.Event) (*models.Event, error) {
	return nil, nil
}
func (f *fakeService) UpdateEvent(context.Context, string, string, *models.Event) (*models.Event, error) {
	return nil, nil
}
func (f *fakeService) DeleteEvent(context.Context, string, string) error { return nil }
func (f *fakeService) GetFreeBusyInfo(context.Context, FreeBusyParams) (*FreeBusyResult, error) {
	return nil, nil
}
func (f *fakeService) SetupWebhook(context.Context, string, string) (*WebhookInfo, error) {
	return nil, nil
}
func (f *fakeService) RemoveWebhook(context.Context, string, string) error    { return nil }
func (f *fakeService) PerformFullSync(context.Context, string) error          { return nil }
func (f *fakeService) PerformIncrementalSync(context.Context, string) error   { return nil }

var _ Service = (*fakeService)(nil)

func testEvent(id, title string, start time.Time) *models.Event {
	return &models.Event{
		ProviderEventID: id,
		CalendarID:      "primary",
		Title:           title,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Status:          models.StatusConfirmed,
		ShowAs:          models.ShowAsBusy,
	}
}

func setupEngineTest(t *testing.T) (*memory.Store, *SyncEngine, *models.CalendarConnection) {
	t.Helper()
	st := memory.New()
	conn := &models.CalendarConnection{
		ID:          "conn-1",
		UserID:      "user-1",
		Provider:    models.ProviderGoogle,
		CalendarID:  "primary",
		AccessToken: "token",
		TokenExpiry: time.Now().Add(time.Hour),
		IsActive:    true,
	}
	if err := st.SaveConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	return st, NewSyncEngine(st, nil), conn
}

func TestFullSyncPagesAndStoresCursor(t *testing.T) {
	st, engine, _ := setupEngineTest(t)
	ctx := context.Background()
	base := time.Now().UTC()

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		if params.SyncToken != "" {
			t.Errorf("full sync sent a sync token: %q", params.SyncToken)
		}
		if params.PageToken == "" {
			return &ListEventsResult{
				Events:        []*models.Event{testEvent("ev-1", "Standup", base), testEvent("ev-2", "Review", base.Add(2*time.Hour))},
				NextPageToken: "page-2",
			}, nil
		}
		return &ListEventsResult{
			Events:        []*models.Event{testEvent("ev-3", "Planning", base.Add(4*time.Hour))},
			NextSyncToken: "cursor-1",
		}, nil
	}

	if err := engine.FullSync(ctx, svc, "conn-1"); err != nil {
		t.Fatalf("FullSync() error = %v", err)
	}

	conn, err := st.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if conn.SyncCursor != "cursor-1" {
		t.Errorf("SyncCursor = %q, want %q", conn.SyncCursor, "cursor-1")
	}
	if conn.LastFullSyncAt == nil {
		t.Error("LastFullSyncAt not stamped")
	}

	events, err := st.ListEventsInRange(ctx, "conn-1", base.Add(-24*time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("stored %d events, want 3", len(events))
	}

	log, err := st.LatestSyncLog(ctx, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if log.Status != models.SyncStatusCompleted {
		t.Errorf("log status = %s, want completed", log.Status)
	}
	if log.SyncType != models.SyncTypeFull {
		t.Errorf("log type = %s, want full", log.SyncType)
	}
	if log.EventsUpserted != 3 {
		t.Errorf("EventsUpserted = %d, want 3", log.EventsUpserted)
	}
}

func TestIncrementalSyncWithoutCursorRunsFull(t *testing.T) {
	st, engine, _ := setupEngineTest(t)
	ctx := context.Background()

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		return &ListEventsResult{NextSyncToken: "cursor-1"}, nil
	}

	if err := engine.IncrementalSync(ctx, svc, "conn-1"); err != nil {
		t.Fatalf("IncrementalSync() error = %v", err)
	}

	log, err := st.LatestSyncLog(ctx, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if log.SyncType != models.SyncTypeFull {
		t.Errorf("log type = %s, want full for a connection without a cursor", log.SyncType)
	}

	if len(svc.calls) != 1 || !svc.calls[0].TimeMin.Before(svc.calls[0].TimeMax) {
		t.Errorf("expected one time-bounded query, got %+v", svc.calls)
	}
}

func TestIncrementalSyncAppliesDeletes(t *testing.T) {
	st, engine, conn := setupEngineTest(t)
	ctx := context.Background()
	base := time.Now().UTC()

	conn.SyncCursor = "cursor-1"
	if err := st.SaveConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertEvent(ctx, &models.ExternalCalendarEvent{
		ConnectionID: "conn-1",
		Event:        *testEvent("ev-old", "Cancelled later", base),
		LastSyncedAt: base,
	}); err != nil {
		t.Fatal(err)
	}

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		if params.SyncToken != "cursor-1" {
			t.Errorf("SyncToken = %q, want %q", params.SyncToken, "cursor-1")
		}
		return &ListEventsResult{
			Events:        []*models.Event{testEvent("ev-new", "Added", base.Add(time.Hour))},
			DeletedIDs:    []string{"ev-old"},
			NextSyncToken: "cursor-2",
		}, nil
	}

	if err := engine.IncrementalSync(ctx, svc, "conn-1"); err != nil {
		t.Fatalf("IncrementalSync() error = %v", err)
	}

	if _, err := st.GetEvent(ctx, "conn-1", "ev-old"); err != store.ErrNotFound {
		t.Errorf("deleted event lookup = %v, want ErrNotFound", err)
	}
	if _, err := st.GetEvent(ctx, "conn-1", "ev-new"); err != nil {
		t.Errorf("added event lookup error = %v", err)
	}

	got, _ := st.GetConnection(ctx, "conn-1")
	if got.SyncCursor != "cursor-2" {
		t.Errorf("SyncCursor = %q, want %q", got.SyncCursor, "cursor-2")
	}
	if got.LastIncrementalSyncAt == nil {
		t.Error("LastIncrementalSyncAt not stamped")
	}
}

func TestIncrementalSyncReplayIsIdempotent(t *testing.T) {
	st, engine, conn := setupEngineTest(t)
	ctx := context.Background()
	base := time.Now().UTC()

	conn.SyncCursor = "cursor-1"
	if err := st.SaveConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		return &ListEventsResult{
			Events:        []*models.Event{testEvent("ev-1", "Repeated", base)},
			NextSyncToken: "cursor-1",
		}, nil
	}

	for i := 0; i < 2; i++ {
		if err := engine.IncrementalSync(ctx, svc, "conn-1"); err != nil {
			t.Fatalf("IncrementalSync() run %d error = %v", i+1, err)
		}
	}

	events, err := st.ListEventsInRange(ctx, "conn-1", base.Add(-time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("stored %d events after replay, want 1", len(events))
	}
}

func TestIncrementalSyncFallsBackOnExpiredCursor(t *testing.T) {
	st, engine, conn := setupEngineTest(t)
	ctx := context.Background()
	base := time.Now().UTC()

	conn.SyncCursor = "expired-cursor"
	if err := st.SaveConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		if params.SyncToken != "" {
			return nil, NewError(CodeSyncTokenExpired, "sync token is no longer valid")
		}
		return &ListEventsResult{
			Events:        []*models.Event{testEvent("ev-1", "Recovered", base)},
			NextSyncToken: "fresh-cursor",
		}, nil
	}

	// The expiry must never surface to the caller.
	if err := engine.IncrementalSync(ctx, svc, "conn-1"); err != nil {
		t.Fatalf("IncrementalSync() error = %v, want silent fallback", err)
	}

	got, _ := st.GetConnection(ctx, "conn-1")
	if got.SyncCursor != "fresh-cursor" {
		t.Errorf("SyncCursor = %q, want the cursor from the fallback full sync", got.SyncCursor)
	}
	if got.LastFullSyncAt == nil {
		t.Error("fallback full sync did not stamp LastFullSyncAt")
	}

	log, err := st.LatestSyncLog(ctx, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if log.SyncType != models.SyncTypeFull || log.Status != models.SyncStatusCompleted {
		t.Errorf("latest log = %s/%s, want completed full sync", log.SyncType, log.Status)
	}
}

func TestSyncRefusesWhileAnotherRuns(t *testing.T) {
	st, engine, _ := setupEngineTest(t)
	ctx := context.Background()

	if _, err := st.StartSyncLog(ctx, "conn-1", models.SyncTypeFull); err != nil {
		t.Fatal(err)
	}

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		t.Error("ListEvents called while another sync held the log")
		return &ListEventsResult{}, nil
	}

	err := engine.FullSync(ctx, svc, "conn-1")
	if err != store.ErrSyncInProgress {
		t.Errorf("FullSync() = %v, want ErrSyncInProgress", err)
	}
}

func TestFullSyncRecordsFailure(t *testing.T) {
	st, engine, _ := setupEngineTest(t)
	ctx := context.Background()

	svc := &fakeService{}
	svc.listEvents = func(ctx context.Context, params ListEventsParams) (*ListEventsResult, error) {
		return nil, NewError(CodeServiceUnavailable, "upstream down")
	}

	if err := engine.FullSync(ctx, svc, "conn-1"); err == nil {
		t.Fatal("FullSync() = nil, want error")
	}

	log, err := st.LatestSyncLog(ctx, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if log.Status != models.SyncStatusFailed {
		t.Errorf("log status = %s, want failed", log.Status)
	}
	if log.ErrorCode != string(CodeServiceUnavailable) {
		t.Errorf("log error code = %q, want %q", log.ErrorCode, CodeServiceUnavailable)
	}
}
