package model

import "time"

// Unsubscribe link modes, in order of preference.
const (
	ModeOneClick = "one-click"
	ModeManual   = "manual"
	ModeMailto   = "mailto"
)

// Sender is an aggregated newsletter sender found during a scan.
type Sender struct {
	Domain     string   `json:"domain"`
	From       string   `json:"from"`
	Count      int      `json:"count"`
	Link       string   `json:"link"`
	Mode       string   `json:"mode"`
	Subjects   []string `json:"subjects"`
	Suppressed bool     `json:"suppressed"`
}

// ScanStatus is a point-in-time snapshot of the running (or last) scan.
type ScanStatus struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// ScanSnapshot is the persisted result of a completed scan.
type ScanSnapshot struct {
	AccountEmail string    `json:"account_email"`
	Scanned      int       `json:"scanned"`
	Senders      []Sender  `json:"senders"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Filters narrows the mailbox search. Zero values are ignored.
// AfterDate/BeforeDate take precedence over OlderThan.
type Filters struct {
	OlderThan  string `json:"older_than,omitempty"`  // e.g. "30d"
	AfterDate  string `json:"after_date,omitempty"`  // YYYY/MM/DD
	BeforeDate string `json:"before_date,omitempty"` // YYYY/MM/DD
	LargerThan string `json:"larger_than,omitempty"` // e.g. "5M"
	Category   string `json:"category,omitempty"`    // promotions, social, updates, forums, primary
	Sender     string `json:"sender,omitempty"`
	Label      string `json:"label,omitempty"`
}

// UnsubscribeRecord is one attempt against a sender's unsubscribe endpoint.
type UnsubscribeRecord struct {
	AccountEmail string    `json:"account_email"`
	Domain       string    `json:"domain"`
	Link         string    `json:"link"`
	Mode         string    `json:"mode"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	AttemptedAt  time.Time `json:"attempted_at"`
}
