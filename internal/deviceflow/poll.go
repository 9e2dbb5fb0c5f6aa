package deviceflow

import (
	"context"
	"errors"
	"strings"
)

// PollDeviceFlow answers a device's token poll per RFC 8628 section 3.5.
// Terminal states are reported before the deadline is consulted, and a poll
// arriving sooner than the interval since the last accepted poll is answered
// with slow_down without being recorded. A non-empty clientID must match the
// client that started the flow.
func (f *Flow) PollDeviceFlow(ctx context.Context, deviceCode, clientID string) (*PollResult, error) {
	deviceCode = strings.TrimSpace(deviceCode)
	if deviceCode == "" {
		return nil, ErrInvalidDeviceCode
	}

	rec, err := f.store.FindByDeviceCode(ctx, deviceCode)
	if errors.Is(err, ErrNotFound) {
		return f.pollResult(PollAccessDenied, nil), nil
	}
	if err != nil {
		return nil, err
	}

	if clientID = strings.TrimSpace(clientID); clientID != "" && clientID != rec.ClientID {
		f.logger.WarnContext(ctx, "device code polled by another client",
			"record_id", rec.ID, "client_id", clientID)
		return f.pollResult(PollAccessDenied, nil), nil
	}

	now := f.now()
	switch f.observe(ctx, rec, ByDeviceCode(deviceCode), now) {
	case StatusAuthorized:
		return f.pollResult(PollSuccess, rec), nil
	case StatusDenied:
		return f.pollResult(PollAccessDenied, nil), nil
	case StatusExpired:
		return f.pollResult(PollExpiredToken, nil), nil
	}

	if !rec.LastPollAt.IsZero() && now.Sub(rec.LastPollAt) < rec.Interval() {
		return f.pollResult(PollSlowDown, nil), nil
	}

	// The poll is answered even if recording it fails; the next poll is then
	// measured against the previous accepted one.
	if err := f.store.UpdateLastPollAt(ctx, deviceCode, now); err != nil {
		f.logger.WarnContext(ctx, "last poll time not recorded", "record_id", rec.ID, "error", err)
	}

	return f.pollResult(PollAuthorizationPending, nil), nil
}

func (f *Flow) pollResult(outcome PollOutcome, rec *Record) *PollResult {
	f.recorder.PollOutcome(outcome)
	res := &PollResult{Outcome: outcome}
	if outcome == PollSuccess && rec != nil {
		res.AuthorizedUser = rec.AuthorizedUser
		res.Scope = rec.Scope
	}
	return res
}
