package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"github.com/ukydev/fleet-deliveries/internal/reconcile"
	"github.com/ukydev/fleet-deliveries/internal/rollover"
)

// maxEventBytes caps a change event body.
const maxEventBytes = 1 << 20

// EventProcessor applies a delivery change event.
type EventProcessor interface {
	Handle(ctx context.Context, evt models.ChangeEvent) models.Outcome
}

// RolloverRunner runs the daily rollover on demand.
type RolloverRunner interface {
	Run(ctx context.Context) (rollover.Report, error)
}

// ReconcileRunner runs the drift check on demand.
type ReconcileRunner interface {
	Run(ctx context.Context) ([]reconcile.Report, error)
}

// EventHandler serves the trigger endpoints.
type EventHandler struct {
	processor EventProcessor
	rollover  RolloverRunner
	reconcile ReconcileRunner
}

// NewEventHandler creates a new event handler. rollover and reconcile may be
// nil, in which case their endpoints answer 404.
func NewEventHandler(processor EventProcessor, rollover RolloverRunner, reconcile ReconcileRunner) *EventHandler {
	return &EventHandler{
		processor: processor,
		rollover:  rollover,
		reconcile: reconcile,
	}
}

// DeliveryChange handles a delivery change event pushed by a database
// trigger. Processing problems are reported in the returned outcome, not
// as an HTTP error, so the trigger does not redeliver.
func (h *EventHandler) DeliveryChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var evt models.ChangeEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := evt.Normalize(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now()
	}

	outcome := h.processor.Handle(r.Context(), evt)
	writeJSON(w, http.StatusOK, outcome)
}

// RunRollover runs the daily rollover and returns its report.
func (h *EventHandler) RunRollover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.rollover == nil {
		http.NotFound(w, r)
		return
	}

	report, err := h.rollover.Run(r.Context())
	if err != nil {
		log.WithError(err).Error("Rollover trigger failed")
		http.Error(w, "Rollover failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunReconcile runs the drift check and returns one report per account.
func (h *EventHandler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.reconcile == nil {
		http.NotFound(w, r)
		return
	}

	reports, err := h.reconcile.Run(r.Context())
	if err != nil {
		log.WithError(err).Error("Reconcile trigger failed")
		http.Error(w, "Reconcile failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// Health reports that the process is serving.
func (h *EventHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
