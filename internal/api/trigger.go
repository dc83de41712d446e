package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ignite/outreach-engine/internal/pkg/httputil"
)

// TriggerSchedulerRun executes one scheduler pass on behalf of the external
// cron. The bearer secret is compared in constant time; with no secret
// configured the endpoint is disabled rather than open.
func (h *Handlers) TriggerSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if h.triggerSecret == "" {
		httputil.Error(w, http.StatusServiceUnavailable, "scheduler trigger not configured")
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.triggerSecret)) != 1 {
		httputil.Unauthorized(w, "invalid trigger secret")
		return
	}

	report, err := h.runner.RunOnce(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, report)
}
