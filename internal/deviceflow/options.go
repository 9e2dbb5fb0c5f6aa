package deviceflow

import (
	"io"
	"log/slog"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

// Option configures the device flow implementation
type Option func(*Flow)

// WithExpiryDuration sets the code lifetime
// per RFC 8628 section 3.2, expires_in is fixed at issuance
func WithExpiryDuration(d time.Duration) Option {
	return func(f *Flow) {
		f.expiryDuration = d
	}
}

// WithPollInterval sets the minimum polling interval
// per RFC 8628 section 3.5, clients must wait between polling attempts
func WithPollInterval(d time.Duration) Option {
	return func(f *Flow) {
		f.pollInterval = d
	}
}

// WithUserCodeLength sets the user code length
// length must be compatible with RFC 8628 section 6.1 requirements
func WithUserCodeLength(length int) Option {
	return func(f *Flow) {
		f.userCodeLength = length
	}
}

// WithClock sets the time source used for expiry and interval checks
func WithClock(clock Clock) Option {
	return func(f *Flow) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithRandom sets the random source for code generation
func WithRandom(r io.Reader) Option {
	return func(f *Flow) {
		f.random = r
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(f *Flow) {
		if r != nil {
			f.recorder = r
		}
	}
}

// WithClientRegistry rejects device flows for clients the registry does not know
func WithClientRegistry(c ClientRegistry) Option {
	return func(f *Flow) {
		f.clients = c
	}
}

// WithMaxCreateAttempts bounds code regeneration after duplicate inserts
func WithMaxCreateAttempts(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.maxCreateAttempts = n
		}
	}
}
