package api

import (
	"context"
	"net/http"
)

func (s *Server) handleCleanReadings(w http.ResponseWriter, r *http.Request) {
	// a dropped client must not abort the run halfway through a day
	ctx := context.WithoutCancel(r.Context())

	report, ok := s.retention.TryRun(ctx)
	if !ok {
		WriteError(w, http.StatusConflict, "Retention run already in progress")
		return
	}

	status := http.StatusOK
	if !report.Success {
		status = http.StatusInternalServerError
	}
	s.logger.Info("retention triggered over HTTP", "request_id", RequestID(r.Context()), "result", report.String())
	WriteJSON(w, status, report)
}
