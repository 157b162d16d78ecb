// Package server exposes an update service over HTTP, speaking the framed
// protocol messages the HTTP transport client sends.
//
// It exists for development and integration testing: point an agent at it
// and it serves one firmware image to any device not yet at the target
// version. Production deployments are expected to run a real update
// service behind the same wire contract.
package server

import (
	"net/http"

	"github.com/lanternworks/otalink/log"
	"github.com/lanternworks/otalink/protocol"
	"github.com/lanternworks/otalink/service"
	"github.com/lanternworks/otalink/updater"
)

// Handler serves the update protocol over HTTP POST.
type Handler struct {
	service updater.UpdateService
	logger  *log.SugaredLogger
}

// NewHandler creates a protocol handler delegating decisions to the given
// update service. logger may be nil.
func NewHandler(svc updater.UpdateService, logger *log.SugaredLogger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	framed, err := protocol.NewFrameDecoder(r.Body).ReadFrame()
	if err != nil {
		h.errorf("bad request frame: %v", err)
		http.Error(w, "bad frame", http.StatusBadRequest)
		return
	}

	report, err := protocol.DecodeStatusReport(framed)
	if err != nil {
		h.errorf("bad status report: %v", err)
		http.Error(w, "bad status report", http.StatusBadRequest)
		return
	}

	cmd, err := h.service.Request(r.Context(), report)
	if err != nil {
		h.errorf("service decision failed: %v", err)
		http.Error(w, "service error", http.StatusInternalServerError)
		return
	}

	payload, err := protocol.EncodeCommand(cmd)
	if err != nil {
		h.errorf("encode command: %v", err)
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", service.ContentType)
	if err := protocol.NewFrameEncoder(w).WriteFrame(payload); err != nil {
		// Headers are already written; nothing to do but log.
		h.errorf("write command frame: %v", err)
	}
}

func (h *Handler) errorf(template string, args ...any) {
	if h.logger != nil {
		h.logger.Errorf(template, args...)
	}
}
