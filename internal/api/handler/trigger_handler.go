package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/modqueue-notifier/internal/api/middleware"
	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/service"
)

// Pipeline is the set of entry points exposed over HTTP.
type Pipeline interface {
	OnItemDetected(ctx context.Context, raw domain.RawItem, s domain.Settings) service.IntakeResult
	OnBackupScan(ctx context.Context, raws []domain.RawItem, s domain.Settings) service.ScanResult
	OnFlushTick(ctx context.Context, s domain.Settings) service.FlushResult
	OnQueueSizeObserved(ctx context.Context, count int, s domain.Settings) service.OverflowResult
}

// TriggerHandler lets an external scheduler or event source invoke the
// pipeline. Every trigger runs to completion even if the caller hangs up,
// so a half-finished flush never leaves delivered entries in the buffer.
type TriggerHandler struct {
	pipeline Pipeline
	settings func() domain.Settings
	logger   *zap.Logger
}

func NewTriggerHandler(p Pipeline, settings func() domain.Settings, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{pipeline: p, settings: settings, logger: logger}
}

type scanRequest struct {
	Items []domain.RawItem `json:"items"`
}

type queueSizeRequest struct {
	Count int `json:"count"`
}

// Item handles POST /api/v1/items
//
// @Summary  Report one newly detected queue item
// @Tags     triggers
// @Accept   json
// @Produce  json
// @Param    body  body      domain.RawItem  true  "Queue item"
// @Success  202   {object}  service.IntakeResult
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/items [post]
func (h *TriggerHandler) Item(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawItem
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if raw.ID == "" {
		mapError(w, domain.ErrMissingID)
		return
	}

	res := h.pipeline.OnItemDetected(detach(r), raw, h.settings())
	h.logger.Debug("item trigger",
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.String("item_id", raw.ID),
		zap.String("outcome", string(res.Outcome)),
	)
	respondJSON(w, http.StatusAccepted, res)
}

// Scan handles POST /api/v1/scan
//
// @Summary  Re-run intake for the full current queue
// @Tags     triggers
// @Accept   json
// @Produce  json
// @Param    body  body      scanRequest  true  "Current queue items"
// @Success  202   {object}  service.ScanResult
// @Router   /api/v1/scan [post]
func (h *TriggerHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	respondJSON(w, http.StatusAccepted, h.pipeline.OnBackupScan(detach(r), req.Items, h.settings()))
}

// Flush handles POST /api/v1/flush
//
// @Summary  Deliver everything buffered now
// @Tags     triggers
// @Produce  json
// @Success  202  {object}  service.FlushResult
// @Router   /api/v1/flush [post]
func (h *TriggerHandler) Flush(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusAccepted, h.pipeline.OnFlushTick(detach(r), h.settings()))
}

// QueueSize handles POST /api/v1/queue-size
//
// @Summary  Report the total queue size for overflow alerting
// @Tags     triggers
// @Accept   json
// @Produce  json
// @Param    body  body      queueSizeRequest  true  "Queue size"
// @Success  202   {object}  service.OverflowResult
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/queue-size [post]
func (h *TriggerHandler) QueueSize(w http.ResponseWriter, r *http.Request) {
	var req queueSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Count < 0 {
		mapError(w, domain.ErrInvalidCount)
		return
	}
	respondJSON(w, http.StatusAccepted, h.pipeline.OnQueueSizeObserved(detach(r), req.Count, h.settings()))
}

// detach keeps request values such as the correlation id but drops the
// request's cancellation.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
