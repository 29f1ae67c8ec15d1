package autotest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/programme-lv/autotest/srvcerror"
	"github.com/programme-lv/autotest/translations"
)

var (
	// ErrRateLimitExceeded is returned on HTTP 429. Callers should back off
	// and try again later.
	ErrRateLimitExceeded = errors.New("autotester rate limit exceeded")
	// ErrUnauthorized is returned on HTTP 401. The stored credentials are
	// out of date and should be pushed again.
	ErrUnauthorized = errors.New("autotester rejected credentials")
)

// RemoteError is any other non-2xx answer from the autotester.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("autotester responded %d: %s", e.StatusCode, e.Message)
}

const ErrCodeSettingsNotConfigured = "autotest_settings_not_configured"

func ErrSettingsNotConfigured(tr *translations.Translator) *srvcerror.Error {
	return srvcerror.New(
		ErrCodeSettingsNotConfigured,
		tr.Msg(translations.SettingsNotSetup),
	).SetHttpStatusCode(http.StatusBadRequest)
}
