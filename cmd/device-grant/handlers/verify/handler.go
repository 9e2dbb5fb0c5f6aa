// Package verify provides verification flow handlers per RFC 8628 section 3.3
package verify

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/csrf"
	"github.com/wrale/device-grant/internal/deviceflow"
	"github.com/wrale/device-grant/internal/identity"
	"github.com/wrale/device-grant/internal/ratelimit"
)

// RateLimitRecorder is told about every rejected verification attempt
type RateLimitRecorder interface {
	RateLimitHit()
}

type nopRecorder struct{}

func (nopRecorder) RateLimitHit() {}

// Handler processes user verification flow per RFC 8628 section 3.3
type Handler struct {
	flow     deviceflow.Service
	csrf     *csrf.Manager
	identity identity.Provider
	limiter  ratelimit.Limiter
	recorder RateLimitRecorder
	logger   *slog.Logger
	baseURL  string
}

// Config contains handler configuration
type Config struct {
	Flow     deviceflow.Service
	CSRF     *csrf.Manager
	Identity identity.Provider
	Limiter  ratelimit.Limiter
	Recorder RateLimitRecorder
	Logger   *slog.Logger
	BaseURL  string
}

// New creates a new verification flow handler
func New(cfg Config) *Handler {
	h := &Handler{
		flow:     cfg.Flow,
		csrf:     cfg.CSRF,
		identity: cfg.Identity,
		limiter:  cfg.Limiter,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		baseURL:  cfg.BaseURL,
	}
	if h.limiter == nil {
		h.limiter = ratelimit.Unlimited{}
	}
	if h.recorder == nil {
		h.recorder = nopRecorder{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// allow counts a verification attempt against the caller's address per
// RFC 8628 section 5.1 and answers 429 once the window is exhausted
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	ip := common.ClientIP(r)
	d := h.limiter.Allow(r.Context(), "verify:"+ip)
	if d.Allowed {
		return true
	}

	h.recorder.RateLimitHit()
	h.logger.WarnContext(r.Context(), "verification rate limited", "client_ip", ip, "count", d.Count)

	if !d.WindowEnd.IsZero() {
		retry := int(math.Ceil(time.Until(d.WindowEnd).Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	common.WriteErrorStatus(w, http.StatusTooManyRequests, deviceflow.ErrorCodeSlowDown,
		"Too many verification attempts. Please wait before trying again.")
	return false
}
