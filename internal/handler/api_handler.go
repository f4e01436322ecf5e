package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/config"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/booking"
	"github.com/katxuyu/voice-ai-agent/internal/services/followup"
	"github.com/katxuyu/voice-ai-agent/internal/services/router"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// APIHandler exposes the slot, booking, follow-up and contact endpoints
// shared by the voice agent and internal tooling.
type APIHandler struct {
	cfg      *config.Config
	repos    repository.RepositoryManager
	crm      *ghl.Client
	routes   *router.Router
	slotSvc  *slots.Service
	booker   *booking.Coordinator
	sweeper  *followup.Sweeper
	notifier *notify.Notifier
}

// NewAPIHandler creates the API handler.
func NewAPIHandler(cfg *config.Config, repos repository.RepositoryManager, crm *ghl.Client,
	routes *router.Router, slotSvc *slots.Service, booker *booking.Coordinator,
	sweeper *followup.Sweeper, notifier *notify.Notifier) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		repos:    repos,
		crm:      crm,
		routes:   routes,
		slotSvc:  slotSvc,
		booker:   booker,
		sweeper:  sweeper,
		notifier: notifier,
	}
}

// SetupAPIRoutes registers the shared endpoints at the router root.
func (h *APIHandler) SetupAPIRoutes(r *mux.Router) {
	r.HandleFunc("/availableSlotsOutbound", h.handleAvailableSlotsOutbound).Methods(http.MethodGet)
	r.HandleFunc("/availableSlotsInbound", h.handleAvailableSlotsInbound).Methods(http.MethodGet)
	r.HandleFunc("/bookAppointment", h.handleBookAppointment).Methods(http.MethodPost)
	r.HandleFunc("/updateContactAddress", h.handleUpdateContactAddress).Methods(http.MethodPost)
	r.HandleFunc("/followup", h.handleCreateFollowUp).Methods(http.MethodPost)
	r.HandleFunc("/followup/trigger", h.handleTriggerFollowUps).Methods(http.MethodPost)
	r.HandleFunc("/", h.handleHealth).Methods(http.MethodGet)
}

// handleAvailableSlotsOutbound returns up to 15 chronological slots in a
// 7-day window anchored at the requested date and time.
func (h *APIHandler) handleAvailableSlotsOutbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	date := q.Get("AppointmentDate")
	timeframe := q.Get("Timeframe")
	service := q.Get("service")
	province := q.Get("province")
	if date == "" || timeframe == "" {
		writeError(w, http.StatusBadRequest, "AppointmentDate and Timeframe are required")
		return
	}

	start, err := timeutil.ItalianToUTC(date, timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var reps []string
	if domain.ValidService(service) {
		reps, err = h.routes.RepsFor(ctx, domain.Service(service), province)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "sales rep routing failed")
			return
		}
	}

	res := h.slotSvc.Fetch(ctx, start, start.Add(7*24*time.Hour), reps, 15)
	if res.Kind == slots.ResultAPIError {
		writeError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}

	out := make([]map[string]string, 0, len(res.Slots))
	for _, s := range res.Slots {
		d, hm := timeutil.UTCToItalian(s.Time)
		out = append(out, map[string]string{
			"date":  d,
			"time":  hm,
			"repId": s.RepID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slots": out})
}

// handleAvailableSlotsInbound returns the rendered next-48h availability;
// 403 outside the 08-20 Rome operating window.
func (h *APIHandler) handleAvailableSlotsInbound(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if !timeutil.IsOperatingHours(now) {
		writeError(w, http.StatusForbidden, "outside operating hours")
		return
	}

	windowEnd := timeutil.RomeDayAt(now.AddDate(0, 0, 1), 21, 30)
	res := h.slotSvc.Fetch(r.Context(), now.UTC(), windowEnd, nil, 15)
	if res.Kind != slots.ResultOK {
		writeJSON(w, http.StatusOK, map[string]string{"availableSlots": "Disponibilità non determinata"})
		return
	}

	text, _ := slots.Render(res.Slots)
	writeJSON(w, http.StatusOK, map[string]string{"availableSlots": text})
}

// bookAppointmentRequest is the booking payload.
type bookAppointmentRequest struct {
	AppointmentDate string `json:"appointmentDate"`
	ContactID       string `json:"contactId"`
	Address         string `json:"address"`
	UserID          string `json:"userId"`
}

func (h *APIHandler) handleBookAppointment(w http.ResponseWriter, r *http.Request) {
	var req bookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	outcome, err := h.booker.Book(r.Context(), booking.Request{
		AppointmentDate: req.AppointmentDate,
		ContactID:       req.ContactID,
		Address:         req.Address,
		UserID:          req.UserID,
	})
	if err != nil {
		if errors.Is(err, booking.ErrBadDate) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.notifier.Error(r.Context(), notify.SeverityNormal, "Prenotazione fallita", err,
			notify.Context{ContactID: req.ContactID})
		writeError(w, http.StatusInternalServerError, "booking failed")
		return
	}

	switch outcome.Status {
	case booking.StatusBooked:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"status":      "booked",
			"appointment": outcome.Booked,
		})
	case booking.StatusAlternatives:
		alts := make([]map[string]string, 0, len(outcome.Alternatives))
		for _, s := range outcome.Alternatives {
			d, hm := timeutil.UTCToItalian(s.Time)
			alts = append(alts, map[string]string{"date": d, "time": hm, "repId": s.RepID})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": string(booking.StatusAlternatives),
			"slots":  alts,
		})
	default:
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status": string(booking.StatusNoAlternatives),
		})
	}
}

// updateContactAddressRequest is the contact-address payload.
type updateContactAddressRequest struct {
	ContactID   string `json:"contactId"`
	FullAddress string `json:"fullAddress"`
}

func (h *APIHandler) handleUpdateContactAddress(w http.ResponseWriter, r *http.Request) {
	var req updateContactAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == "" || req.FullAddress == "" {
		writeError(w, http.StatusBadRequest, "contactId and fullAddress are required")
		return
	}

	if err := h.crm.UpdateContactAddress(r.Context(), req.ContactID, req.FullAddress); err != nil {
		logger.Base().Error("contact address update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// createFollowUpRequest is the manual follow-up payload.
type createFollowUpRequest struct {
	ContactID        string `json:"contactId"`
	FollowUpDateTime string `json:"followUpDateTime"` // "DD-MM-YYYY HH:mm" Rome time
}

func (h *APIHandler) handleCreateFollowUp(w http.ResponseWriter, r *http.Request) {
	var req createFollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == "" {
		writeError(w, http.StatusBadRequest, "contactId and followUpDateTime are required")
		return
	}

	at, err := timeutil.ParseFlexibleDateTime(req.FollowUpDateTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fu := &domain.FollowUp{
		ContactID:  req.ContactID,
		FollowUpAt: at,
		Status:     domain.FollowUpStatusPending,
	}
	if err := h.repos.FollowUps().Create(r.Context(), fu); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist follow-up")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"followUpId": fu.ID,
		"followUpAt": at.Format(time.RFC3339),
	})
}

func (h *APIHandler) handleTriggerFollowUps(w http.ResponseWriter, r *http.Request) {
	go h.sweeper.Sweep(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}

func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
