package deviceflow

import "time"

// Status is the lifecycle state of a device authorization record
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusDenied     Status = "DENIED"
	StatusExpired    Status = "EXPIRED"

	// StatusNotExist is reported when a code resolves to no record. It is never stored.
	StatusNotExist Status = "NOT_EXIST"
)

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	switch s {
	case StatusAuthorized, StatusDenied, StatusExpired:
		return true
	}
	return false
}

// Record is one device authorization attempt per RFC 8628
type Record struct {
	ID         string
	DeviceCode string // device-facing secret, polled by the device
	UserCode   string // canonical form: upper case, no separator
	ClientID   string
	Scope      string // space-delimited
	Status     Status

	// CallbackURI is recorded per client and filled in on read
	CallbackURI string

	CreatedAt       time.Time
	ExpiresAt       time.Time // absolute deadline, millisecond precision
	IntervalSeconds int       // minimum spacing between polls
	LastPollAt      time.Time // zero until the first accepted poll

	// AuthorizedUser is set if and only if Status is StatusAuthorized
	AuthorizedUser string
}

// Expired reports whether the deadline has passed at now
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Interval returns the poll interval as a duration
func (r *Record) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// Key selects a record by exactly one of its two codes
type Key struct {
	DeviceCode string
	UserCode   string
}

// ByDeviceCode returns a key addressing a record by device code
func ByDeviceCode(code string) Key { return Key{DeviceCode: code} }

// ByUserCode returns a key addressing a record by user code
func ByUserCode(code string) Key { return Key{UserCode: code} }

func (k Key) String() string {
	if k.DeviceCode != "" {
		return "device_code"
	}
	return "user_code"
}

// StatusUpdate describes a conditional status transition.
// When ValidAt is non-zero the update only applies while the record's
// deadline is not before ValidAt.
type StatusUpdate struct {
	Expected       Status
	Next           Status
	AuthorizedUser string
	ValidAt        time.Time
}

// DeviceAuthorization is the device authorization response per RFC 8628 section 3.2
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"` // Remaining time in seconds
	Interval        int    `json:"interval"`   // Poll interval in seconds

	// Optional verification_uri_complete per RFC 8628 section 3.3.1
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	ExpiresAt time.Time `json:"-"`
	ClientID  string    `json:"-"`
	Scope     string    `json:"-"`
}

// PollOutcome is the result of a device poll. Values match RFC 8628 section 3.5 error codes.
type PollOutcome string

const (
	PollAuthorizationPending PollOutcome = ErrorCodeAuthorizationPending
	PollSlowDown             PollOutcome = ErrorCodeSlowDown
	PollExpiredToken         PollOutcome = ErrorCodeExpiredToken
	PollAccessDenied         PollOutcome = ErrorCodeAccessDenied
	PollSuccess              PollOutcome = "success"
)

// PollResult carries the identity and scope only when Outcome is PollSuccess
type PollResult struct {
	Outcome        PollOutcome
	AuthorizedUser string
	Scope          string
}

// Decision is the human's answer on the verification page
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// VerificationResult reports whether a decision was applied.
// When Resolved is false, Status holds the state that prevented it.
type VerificationResult struct {
	Resolved bool
	Status   Status
}

// VerificationPrompt describes a pending request to the human before they decide
type VerificationPrompt struct {
	UserCode  string
	ClientID  string
	Scope     string
	Status    Status
	ExpiresIn int
}
