package verify

import (
	"net/http"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/deviceflow"
)

// HandleComplete finishes an approval after the identity provider redirects back.
// The state carries the user code bound by HandleSubmit and is redeemable once.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if idpErr := q.Get("error"); idpErr != "" {
		h.logger.InfoContext(ctx, "identity provider refused authorization", "error", idpErr)
		common.WriteError(w, deviceflow.ErrorCodeAccessDenied,
			"Sign in was not completed. Please start over on the verification page.")
		return
	}

	state := q.Get("state")
	if state == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"Unable to verify authorization source. Please try again.")
		return
	}

	authCode := q.Get("code")
	if authCode == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"No authorization received. Please try again.")
		return
	}

	userCode, err := h.csrf.Consume(ctx, state)
	if err != nil {
		h.writeCSRFError(w, r, err)
		return
	}
	if userCode == "" {
		// a plain form token was replayed as state
		common.WriteErrorStatus(w, http.StatusForbidden, deviceflow.ErrorCodeInvalidRequest,
			"Unable to verify authorization source. Please try again.")
		return
	}

	principal, err := h.identity.Authenticate(ctx, authCode)
	if err != nil {
		h.writeIdentityError(w, r, err)
		return
	}

	prompt, err := h.flow.LookupUserCode(ctx, userCode)
	if err != nil {
		h.logger.ErrorContext(ctx, "user code lookup failed", "error", err)
		common.WriteServerError(w, "Unable to look up the code. Please try again.")
		return
	}
	if prompt.Status == deviceflow.StatusNotExist {
		h.respond(w, r, "", &deviceflow.VerificationResult{Status: deviceflow.StatusNotExist})
		return
	}

	h.submit(w, r, prompt, deviceflow.DecisionApprove, principal.Name())
}
