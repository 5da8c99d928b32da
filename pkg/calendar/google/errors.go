package google

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/cadencehq/calsync/pkg/calendar"
)

// classify maps a Google API failure onto the shared taxonomy. Google signals
// quota exhaustion as 403 with a rate-limit reason, and an expired sync token
// as 410 GONE, so both get special-cased before the generic status mapping.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var cerr *calendar.Error
	if errors.As(err, &cerr) {
		return err
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return calendar.WrapError(calendar.CodeUnknown, err)
	}

	if gerr.Code == http.StatusForbidden && isRateLimitReason(gerr) {
		e := calendar.WrapError(calendar.CodeRateLimited, err)
		e.HTTPStatus = gerr.Code
		return e
	}

	e := calendar.ClassifyStatus(gerr.Code, gerr.Message)
	e.Err = err
	return e
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}
