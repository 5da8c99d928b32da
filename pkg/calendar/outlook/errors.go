package outlook

import (
	"github.com/cadencehq/calsync/pkg/calendar"
)

// classifyGraph maps a Microsoft Graph failure onto the shared taxonomy.
// Graph reports an expired delta token as 410 GONE, but some tenants return
// it as a 400 with a sync-state error code, so the code string is checked
// before the generic status mapping.
func classifyGraph(status int, code, message string) *calendar.Error {
	switch code {
	case "SyncStateNotFound", "SyncStateInvalid", "ResyncRequired":
		e := calendar.NewError(calendar.CodeSyncTokenExpired, message)
		e.HTTPStatus = status
		return e
	case "ErrorAccessDenied":
		e := calendar.NewError(calendar.CodePermissionDenied, message)
		e.HTTPStatus = status
		return e
	case "InvalidAuthenticationToken":
		e := calendar.NewError(calendar.CodeAuthenticationFailed, message)
		e.HTTPStatus = status
		return e
	}

	return calendar.ClassifyStatus(status, message)
}
