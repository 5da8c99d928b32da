package outlook

import (
	"net/http"
	"testing"

	"github.com/cadencehq/calsync/pkg/calendar"
)

func TestClassifyGraph(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   calendar.Code
	}{
		{"sync state gone", http.StatusGone, "SyncStateNotFound", calendar.CodeSyncTokenExpired},
		{"sync state invalid as 400", http.StatusBadRequest, "SyncStateInvalid", calendar.CodeSyncTokenExpired},
		{"resync required", http.StatusBadRequest, "ResyncRequired", calendar.CodeSyncTokenExpired},
		{"access denied", http.StatusForbidden, "ErrorAccessDenied", calendar.CodePermissionDenied},
		{"invalid token", http.StatusUnauthorized, "InvalidAuthenticationToken", calendar.CodeAuthenticationFailed},
		{"throttled", http.StatusTooManyRequests, "TooManyRequests", calendar.CodeRateLimited},
		{"outage", http.StatusServiceUnavailable, "", calendar.CodeServiceUnavailable},
		{"unknown code falls back to status", http.StatusNotFound, "ErrorItemNotFound", calendar.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGraph(tt.status, tt.code, "boom")
			if err.Code != tt.want {
				t.Errorf("classifyGraph(%d, %q) = %s, want %s", tt.status, tt.code, err.Code, tt.want)
			}
			if err.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, tt.status)
			}
		})
	}
}
