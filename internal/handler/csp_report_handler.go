package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"goodlistseller-gate/internal/observability"
	"goodlistseller-gate/internal/reporting"
)

const (
	maxReportBytes    = 64 << 10
	maxDirectiveLabel = 32
	unknownDirective  = "unknown"
)

// CSPReportHandler receives browser violation reports
type CSPReportHandler struct {
	sink reporting.Sink
	now  func() time.Time
}

func NewCSPReportHandler(sink reporting.Sink) *CSPReportHandler {
	return &CSPReportHandler{sink: sink, now: time.Now}
}

// ServeHTTP handles POST /api/csp-report
func (h *CSPReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Report too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid report")
		return
	}

	violations, err := reporting.Parse(r.Header.Get("Content-Type"), body, h.now())
	if err != nil {
		observability.FromContext(r.Context()).Debug("discarding csp report", slog.Any("error", err))
		writeError(w, http.StatusBadRequest, "Invalid report")
		return
	}

	for _, v := range violations {
		if v.UserAgent == "" {
			v.UserAgent = r.UserAgent()
		}
		observability.CSPReportsTotal.WithLabelValues(directiveLabel(v.EffectiveDirective)).Inc()

		// browsers never retry, so a sink failure still answers 204
		if err := h.sink.Publish(r.Context(), v); err != nil {
			observability.FromContext(r.Context()).Error("failed to forward csp report",
				slog.String("directive", v.EffectiveDirective),
				slog.Any("error", err),
			)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// directiveLabel keeps the metric label set bounded
func directiveLabel(directive string) string {
	if directive == "" || len(directive) > maxDirectiveLabel {
		return unknownDirective
	}
	for _, c := range directive {
		if (c < 'a' || c > 'z') && c != '-' {
			return unknownDirective
		}
	}
	return directive
}
