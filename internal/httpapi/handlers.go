package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/link"
	"github.com/arloliu/go-esplink/transport"
)

const maxBodySize = 64 << 10

// MoveRequest is the body of POST /v1/axes/{axis}/move.
type MoveRequest struct {
	Position decimal.Decimal `json:"position"`
	// Relative moves by Position instead of to it.
	Relative bool `json:"relative"`
}

// VelocityRequest is the body of POST /v1/axes/{axis}/velocity.
type VelocityRequest struct {
	Velocity decimal.Decimal `json:"velocity"`
}

// MotorRequest is the body of POST /v1/axes/{axis}/motor.
type MotorRequest struct {
	On bool `json:"on"`
}

// StopRequest is the optional body of POST /v1/stop. A zero axis stops all
// axes.
type StopRequest struct {
	Axis int `json:"axis"`
}

// RawRequest is the body of POST /v1/raw.
type RawRequest struct {
	Command string `json:"command"`
	// Query reads a reply line.
	Query bool `json:"query"`
}

// PositionResponse is returned by GET /v1/axes/{axis}/position.
type PositionResponse struct {
	Axis     int             `json:"axis"`
	Position decimal.Decimal `json:"position"`
}

// RawResponse is returned by POST /v1/raw.
type RawResponse struct {
	Command  string `json:"command"`
	Response string `json:"response,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Connection  string `json:"connection,omitempty"`
	Phase       string `json:"phase"`
	Outstanding int    `json:"outstanding"`
	Axes        int    `json:"axes"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Phase:       s.link.Phase().String(),
		Outstanding: s.link.Outstanding(),
		Axes:        s.dev.Axes(),
	}
	if s.tr != nil {
		state := s.tr.State()
		resp.Connection = state.String()
		if state != transport.Connected {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if s.link.IsClosed() {
		resp.Status = "closed"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, resp)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	axis, ok := s.axisParam(w, r)
	if !ok {
		return
	}

	var req MoveRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	var err error
	if req.Relative {
		err = s.dev.MoveRelative(r.Context(), axis, req.Position)
	} else {
		err = s.dev.MoveAbsolute(r.Context(), axis, req.Position)
	}
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	axis, ok := s.axisParam(w, r)
	if !ok {
		return
	}

	pos, err := s.dev.Position(r.Context(), axis)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, PositionResponse{Axis: axis, Position: pos})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	axis, ok := s.axisParam(w, r)
	if !ok {
		return
	}

	if err := s.dev.Home(r.Context(), axis); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	axis, ok := s.axisParam(w, r)
	if !ok {
		return
	}

	var req VelocityRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	if err := s.dev.SetVelocity(r.Context(), axis, req.Velocity); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMotor(w http.ResponseWriter, r *http.Request) {
	axis, ok := s.axisParam(w, r)
	if !ok {
		return
	}

	var req MotorRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	var err error
	if req.On {
		err = s.dev.MotorOn(r.Context(), axis)
	} else {
		err = s.dev.MotorOff(r.Context(), axis)
	}
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	var err error
	if req.Axis == 0 {
		err = s.dev.StopAll(r.Context())
	} else {
		err = s.dev.StopAxis(r.Context(), req.Axis)
	}
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	report, err := s.dev.ErrorMessage(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	var req RawRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	resp := RawResponse{Command: req.Command}
	var err error
	if req.Query {
		resp.Response, err = s.dev.RawQuery(r.Context(), req.Command)
	} else {
		err = s.dev.Raw(r.Context(), req.Command)
	}
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) axisParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "axis")
	axis, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid axis %q", raw))
		return 0, false
	}

	return axis, true
}

// decode reads a JSON body into v. An empty body is accepted only when
// optional is true.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return true
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())

		return false
	}

	return true
}

// writeDeviceError maps a controller or link error to an HTTP status.
func (s *Server) writeDeviceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("device request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}

	s.writeError(w, r, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, link.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, link.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, link.ErrLinkClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, link.ErrEmptyResponse):
		return http.StatusGatewayTimeout
	case errors.Is(err, link.ErrLinkFault), errors.Is(err, transport.ErrDeviceUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, esp302.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
