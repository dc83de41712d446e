package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
	"github.com/ignite/outreach-engine/internal/worker"
)

// Handlers holds the services the HTTP layer fronts.
type Handlers struct {
	campaigns     *campaign.Service
	delivery      *delivery.Service
	runner        *worker.SchedulerRunner
	triggerSecret string
}

// userID extracts the caller identity set by the gateway in front of this
// service. Authentication itself lives at the gateway.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"stats":  h.runner.Stats(),
	})
}

// ===== Campaign CRUD =====

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, total, err := h.campaigns.List(r.Context(), userID(r), campaign.ListFilter{
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": list, "total": total})
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), userID(r), input)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	if err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), u); err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ===== Lifecycle =====

func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SendAt *time.Time `json:"send_at"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	sendAt := time.Time{}
	if body.SendAt != nil {
		sendAt = *body.SendAt
	}
	c, err := h.campaigns.Schedule(r.Context(), chi.URLParam(r, "id"), sendAt)
	if err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) ArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ProcessNow dispatches the campaign's next batch immediately, outside the
// cadence. Goes through the same CAS-guarded path as the scheduler, so a
// concurrent pass and a process-now click resolve to a single batch.
func (h *Handlers) ProcessNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.ForceProcess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, campaign.ErrTransitionConflict) {
			httputil.Conflict(w, "campaign is being processed by another run")
			return
		}
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ===== Progress and analytics =====

func (h *Handlers) CampaignProgress(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.campaignError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"campaign_id":          c.ID,
		"status":               c.Status,
		"total_contacts":       c.TotalContacts,
		"processed":            len(c.ContactsProcessed),
		"remaining":            len(c.ContactsRemaining),
		"failed":               len(c.ContactsFailed),
		"current_batch_number": c.CurrentBatchNumber,
		"first_batch_sent_at":  c.FirstBatchSentAt,
		"next_batch_send_time": c.NextBatchSendTime,
		"batch_history":        c.BatchHistory,
	})
}

func (h *Handlers) CampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.campaignError(w, err)
		return
	}
	a, err := h.delivery.Analytics(r.Context(), c)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, a)
}

// ===== Tracking ingest =====

// TrackingEvent records one engagement signal against its attempt. Unknown
// attempts 404 so a misconfigured webhook shows up in provider logs instead
// of silently dropping signals.
func (h *Handlers) TrackingEvent(w http.ResponseWriter, r *http.Request) {
	var ev delivery.InboundEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := h.delivery.ApplyEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, delivery.ErrUnknownEvent):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, delivery.ErrBounceWithoutSend):
			httputil.Conflict(w, err.Error())
		case errors.Is(err, delivery.ErrNotFound):
			httputil.NotFound(w, "no matching delivery attempt")
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) campaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrNoLists),
		errors.Is(err, campaign.ErrCampaignActive):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrTransitionConflict):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
