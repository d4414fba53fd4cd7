package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"carelink/internal/core"
)

type analysisEvent struct {
	Type       string `json:"type"`
	PatientUID string `json:"patient_uid"`
	Snapshot   any    `json:"snapshot"`
	SentAt     int64  `json:"sent_at"`
}

// streamAnalysis pushes the patient's snapshot over server-sent events: the
// current one on connect, then a fresh copy each time it is rewritten.
func (s *Server) streamAnalysis(c echo.Context) error {
	ctx := c.Request().Context()
	doctorUID, patientUID := principal(c).UID, c.Param("uid")

	updates, cancel := s.Updates.Subscribe(patientUID)
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.sendSnapshotEvent(ctx, w, doctorUID, patientUID); err != nil {
		s.Log.Warn().Err(err).Str("patient_uid", patientUID).Msg("failed to send analysis event")
		return nil
	}
	w.Flush()

	heartbeat := time.NewTicker(s.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			if err := s.sendSnapshotEvent(ctx, w, doctorUID, patientUID); err != nil {
				s.Log.Warn().Err(err).Str("patient_uid", patientUID).Msg("failed to send analysis event")
				return nil
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return nil
			}
		}
		w.Flush()
	}
}

// sendSnapshotEvent writes an analysis_update event.  Nothing is written
// while no snapshot exists yet.
func (s *Server) sendSnapshotEvent(ctx context.Context, w io.Writer, doctorUID, patientUID string) error {
	snapshot, err := s.Analysis.Latest(ctx, doctorUID, patientUID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := json.Marshal(analysisEvent{
		Type:       "analysis_update",
		PatientUID: patientUID,
		Snapshot:   snapshot,
		SentAt:     time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
