package verify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/csrf"
	"github.com/wrale/device-grant/internal/deviceflow"
)

// HandleSubmit processes the verification form submission per RFC 8628 section 3.3.
// A denial is applied directly. An approval needs the user's identity: a bearer
// access token is introspected, otherwise the user is sent to the identity
// provider and the approval is finished by HandleComplete.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "Unable to process form submission")
		return
	}
	if common.RejectDuplicateParams(w, r) {
		return
	}
	if !h.allow(w, r) {
		return
	}

	if _, err := h.csrf.Consume(ctx, r.PostForm.Get("csrf_token")); err != nil {
		h.writeCSRFError(w, r, err)
		return
	}

	userCode := strings.TrimSpace(r.PostForm.Get("user_code"))
	if userCode == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "The user_code parameter is REQUIRED")
		return
	}

	decision := deviceflow.Decision(r.PostForm.Get("action"))
	if decision != deviceflow.DecisionApprove && decision != deviceflow.DecisionDeny {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "The action must be approve or deny")
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

	if decision == deviceflow.DecisionDeny {
		h.submit(w, r, prompt, decision, "")
		return
	}

	if token := bearerToken(r); token != "" {
		principal, err := h.identity.Introspect(ctx, token)
		if err != nil {
			h.writeIdentityError(w, r, err)
			return
		}
		h.submit(w, r, prompt, decision, principal.Name())
		return
	}

	if prompt.Status != deviceflow.StatusPending {
		h.respond(w, r, prompt.ClientID, &deviceflow.VerificationResult{Status: prompt.Status})
		return
	}

	state, err := h.csrf.Bind(ctx, prompt.UserCode)
	if err != nil {
		h.logger.ErrorContext(ctx, "binding authorization state failed", "error", err)
		common.WriteServerError(w, "Unable to process request securely. Please try again in a moment.")
		return
	}
	http.Redirect(w, r, h.identity.AuthCodeURL(state), http.StatusFound)
}

// submit applies a decision to a looked up prompt and writes the outcome
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, prompt *deviceflow.VerificationPrompt, decision deviceflow.Decision, user string) {
	res, err := h.flow.SubmitVerification(r.Context(), prompt.UserCode, decision, user)
	if err != nil {
		if errors.Is(err, deviceflow.ErrMissingApprover) {
			common.WriteErrorStatus(w, http.StatusUnauthorized, deviceflow.ErrorCodeAccessDenied,
				"The approving user could not be identified")
			return
		}
		h.logger.ErrorContext(r.Context(), "verification failed", "client_id", prompt.ClientID, "error", err)
		common.WriteServerError(w, "Unable to save the decision. Please try again.")
		return
	}
	h.respond(w, r, prompt.ClientID, res)
}

func (h *Handler) writeCSRFError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, csrf.ErrInvalidToken) || errors.Is(err, csrf.ErrTokenExpired) {
		common.WriteErrorStatus(w, http.StatusForbidden, deviceflow.ErrorCodeInvalidRequest,
			"The form has expired. Please reload the page and try again.")
		return
	}
	h.logger.ErrorContext(r.Context(), "csrf token check failed", "error", err)
	common.WriteServerError(w, "Unable to process request securely. Please try again in a moment.")
}

// bearerToken returns the access token from an Authorization: Bearer header
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
