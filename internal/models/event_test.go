package models

import (
	"testing"
	"time"
)

func TestBlocks(t *testing.T) {
	tests := []struct {
		name   string
		status EventStatus
		showAs ShowAs
		want   bool
	}{
		{"busy confirmed", StatusConfirmed, ShowAsBusy, true},
		{"tentative time", StatusConfirmed, ShowAsTentative, true},
		{"out of office", StatusConfirmed, ShowAsOutOfOffice, true},
		{"free", StatusConfirmed, ShowAsFree, false},
		{"cancelled busy", StatusCancelled, ShowAsBusy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &Event{Status: tt.status, ShowAs: tt.showAs}
			if got := ev.Blocks(); got != tt.want {
				t.Errorf("Blocks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ev := &Event{StartTime: base, EndTime: base.Add(time.Hour)}

	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want bool
	}{
		{"fully inside", base.Add(15 * time.Minute), base.Add(30 * time.Minute), true},
		{"straddles start", base.Add(-time.Hour), base.Add(30 * time.Minute), true},
		{"straddles end", base.Add(30 * time.Minute), base.Add(2 * time.Hour), true},
		{"touches start only", base.Add(-time.Hour), base, false},
		{"touches end only", base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"disjoint", base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.Overlaps(tt.from, tt.to); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTokenExpiresWithin(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	margin := 5 * time.Minute

	tests := []struct {
		name string
		conn CalendarConnection
		want bool
	}{
		{"plenty of time", CalendarConnection{AccessToken: "t", TokenExpiry: now.Add(time.Hour)}, false},
		{"inside margin", CalendarConnection{AccessToken: "t", TokenExpiry: now.Add(2 * time.Minute)}, true},
		{"already expired", CalendarConnection{AccessToken: "t", TokenExpiry: now.Add(-time.Minute)}, true},
		{"exactly at margin", CalendarConnection{AccessToken: "t", TokenExpiry: now.Add(margin)}, true},
		{"no token at all", CalendarConnection{TokenExpiry: now.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.conn.TokenExpiresWithin(margin, now); got != tt.want {
				t.Errorf("TokenExpiresWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookChannelExpiresWithin(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ch := WebhookChannel{Expiration: now.Add(12 * time.Hour)}

	if !ch.ExpiresWithin(24*time.Hour, now) {
		t.Error("channel expiring in 12h should be within a 24h window")
	}
	if ch.ExpiresWithin(time.Hour, now) {
		t.Error("channel expiring in 12h is not within a 1h window")
	}
}
