package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// DepthReader reports how many notifications wait for the next flush.
type DepthReader interface {
	Depth(ctx context.Context) (int, error)
}

// BufferHandler serves a JSON snapshot of the notification buffer.
// Raw Prometheus metrics are available at /metrics via promhttp and are
// separate from this endpoint.
type BufferHandler struct {
	buf    DepthReader
	logger *zap.Logger
}

func NewBufferHandler(buf DepthReader, logger *zap.Logger) *BufferHandler {
	return &BufferHandler{buf: buf, logger: logger}
}

// GetBuffer handles GET /api/v1/buffer
//
// @Summary  Pending notification count
// @Tags     buffer
// @Produce  json
// @Success  200  {object}  map[string]int
// @Failure  500  {object}  map[string]string
// @Router   /api/v1/buffer [get]
func (h *BufferHandler) GetBuffer(w http.ResponseWriter, r *http.Request) {
	depth, err := h.buf.Depth(r.Context())
	if err != nil {
		h.logger.Error("read buffer depth failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"depth": depth})
}
