package deviceflow

import (
	"context"
	"errors"
	"strings"

	"github.com/wrale/device-grant/internal/validation"
)

// LookupUserCode returns what the human is about to approve.
// Codes that are malformed or unknown yield a prompt with StatusNotExist.
func (f *Flow) LookupUserCode(ctx context.Context, userCode string) (*VerificationPrompt, error) {
	code := validation.NormalizeCode(userCode)
	if err := validation.ValidateUserCode(code); err != nil {
		return &VerificationPrompt{Status: StatusNotExist}, nil
	}

	rec, err := f.store.FindByUserCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return &VerificationPrompt{Status: StatusNotExist}, nil
	}
	if err != nil {
		return nil, err
	}

	now := f.now()
	status := f.observe(ctx, rec, ByUserCode(code), now)

	expiresIn := int(rec.ExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	return &VerificationPrompt{
		UserCode:  validation.FormatCode(rec.UserCode),
		ClientID:  rec.ClientID,
		Scope:     rec.Scope,
		Status:    status,
		ExpiresIn: expiresIn,
	}, nil
}

// SubmitVerification applies the human's decision to a pending record.
// The decision commits only if the record is still pending and its deadline
// has not passed; otherwise the result carries the state that prevented it.
// Losing a concurrent race is reported, never retried.
func (f *Flow) SubmitVerification(ctx context.Context, userCode string, decision Decision, approvingUser string) (*VerificationResult, error) {
	var next Status
	switch decision {
	case DecisionApprove:
		if strings.TrimSpace(approvingUser) == "" {
			return nil, ErrMissingApprover
		}
		next = StatusAuthorized
	case DecisionDeny:
		next = StatusDenied
		approvingUser = ""
	default:
		return nil, ErrInvalidDecision
	}

	code := validation.NormalizeCode(userCode)
	if err := validation.ValidateUserCode(code); err != nil {
		return &VerificationResult{Status: StatusNotExist}, nil
	}
	key := ByUserCode(code)

	rec, err := f.store.FindByUserCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return &VerificationResult{Status: StatusNotExist}, nil
	}
	if err != nil {
		return nil, err
	}

	now := f.now()
	if status := f.observe(ctx, rec, key, now); status != StatusPending {
		return &VerificationResult{Status: status}, nil
	}

	ok, err := f.store.CompareAndSetStatus(ctx, key, StatusUpdate{
		Expected:       StatusPending,
		Next:           next,
		AuthorizedUser: strings.TrimSpace(approvingUser),
		ValidAt:        now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return f.alreadyResolved(ctx, key)
	}

	f.recorder.Transition(StatusPending, next)
	f.logger.InfoContext(ctx, "device flow resolved", "record_id", rec.ID, "status", next)

	return &VerificationResult{Resolved: true, Status: next}, nil
}

// alreadyResolved re-reads a record after a lost compare-and-set
func (f *Flow) alreadyResolved(ctx context.Context, key Key) (*VerificationResult, error) {
	rec, err := f.store.FindByUserCode(ctx, key.UserCode)
	if errors.Is(err, ErrNotFound) {
		return &VerificationResult{Status: StatusNotExist}, nil
	}
	if err != nil {
		return nil, err
	}
	return &VerificationResult{Status: f.observe(ctx, rec, key, f.now())}, nil
}
