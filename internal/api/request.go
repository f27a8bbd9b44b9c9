package api

import (
	"fmt"
	"regexp"

	"github.com/mailsweep/mailsweep/pkg/model"
)

var dateRegex = regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`)

// ScanRequest starts a mailbox scan. All fields are optional; an empty body
// scans with the default newsletter query.
type ScanRequest struct {
	Query   string        `json:"query"`
	Limit   int64         `json:"limit"`
	Filters model.Filters `json:"filters"`
}

func (r ScanRequest) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("limit must be positive")
	}
	if r.Filters.AfterDate != "" && !dateRegex.MatchString(r.Filters.AfterDate) {
		return fmt.Errorf("after_date must be YYYY/MM/DD")
	}
	if r.Filters.BeforeDate != "" && !dateRegex.MatchString(r.Filters.BeforeDate) {
		return fmt.Errorf("before_date must be YYYY/MM/DD")
	}
	return nil
}

// UnsubscribeRequest targets one sender from the last scan.
type UnsubscribeRequest struct {
	Domain string `json:"domain"`
	Link   string `json:"link"`
	Mode   string `json:"mode"`
}

func (r UnsubscribeRequest) Validate() error {
	if r.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	return nil
}

// AuthStatusResponse reports the session state to the UI.
type AuthStatusResponse struct {
	LoggedIn             bool   `json:"logged_in"`
	Email                string `json:"email,omitempty"`
	CredentialsAvailable bool   `json:"credentials_available"`
}
