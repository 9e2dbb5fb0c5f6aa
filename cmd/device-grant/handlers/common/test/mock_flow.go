// Package test provides doubles shared by the handler tests
package test

import (
	"context"

	"github.com/wrale/device-grant/internal/deviceflow"
)

// MockFlow implements deviceflow.Service with overridable functions
type MockFlow struct {
	InitiateFunc       func(ctx context.Context, clientID, scope string) (*deviceflow.DeviceAuthorization, error)
	PollFunc           func(ctx context.Context, deviceCode, clientID string) (*deviceflow.PollResult, error)
	LookupFunc         func(ctx context.Context, userCode string) (*deviceflow.VerificationPrompt, error)
	SubmitFunc         func(ctx context.Context, userCode string, decision deviceflow.Decision, approvingUser string) (*deviceflow.VerificationResult, error)
	SetCallbackURIFunc func(ctx context.Context, clientID, uri string) error
	CallbackURIFunc    func(ctx context.Context, clientID string) (string, error)
	CheckHealthFunc    func(ctx context.Context) error
}

// Ensure MockFlow implements Service interface
var _ deviceflow.Service = (*MockFlow)(nil)

// InitiateDeviceFlow implements deviceflow.Service
func (m *MockFlow) InitiateDeviceFlow(ctx context.Context, clientID, scope string) (*deviceflow.DeviceAuthorization, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, clientID, scope)
	}
	return nil, nil
}

// PollDeviceFlow implements deviceflow.Service
func (m *MockFlow) PollDeviceFlow(ctx context.Context, deviceCode, clientID string) (*deviceflow.PollResult, error) {
	if m.PollFunc != nil {
		return m.PollFunc(ctx, deviceCode, clientID)
	}
	return &deviceflow.PollResult{Outcome: deviceflow.PollAuthorizationPending}, nil
}

// LookupUserCode implements deviceflow.Service
func (m *MockFlow) LookupUserCode(ctx context.Context, userCode string) (*deviceflow.VerificationPrompt, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, userCode)
	}
	return &deviceflow.VerificationPrompt{Status: deviceflow.StatusNotExist}, nil
}

// SubmitVerification implements deviceflow.Service
func (m *MockFlow) SubmitVerification(ctx context.Context, userCode string, decision deviceflow.Decision, approvingUser string) (*deviceflow.VerificationResult, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, userCode, decision, approvingUser)
	}
	return &deviceflow.VerificationResult{Status: deviceflow.StatusNotExist}, nil
}

// SetCallbackURI implements deviceflow.Service
func (m *MockFlow) SetCallbackURI(ctx context.Context, clientID, uri string) error {
	if m.SetCallbackURIFunc != nil {
		return m.SetCallbackURIFunc(ctx, clientID, uri)
	}
	return nil
}

// CallbackURI implements deviceflow.Service
func (m *MockFlow) CallbackURI(ctx context.Context, clientID string) (string, error) {
	if m.CallbackURIFunc != nil {
		return m.CallbackURIFunc(ctx, clientID)
	}
	return "", nil
}

// CheckHealth implements deviceflow.Service
func (m *MockFlow) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}
