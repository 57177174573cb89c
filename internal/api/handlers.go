package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/manager"
	"github.com/haptickit/hapticd/internal/models"
)

// vibrateRequest is the submission payload: caller identity plus the
// combined effect.
type vibrateRequest struct {
	UID     int                       `json:"uid"`
	Package string                    `json:"package"`
	Usage   models.Usage              `json:"usage"`
	Effect  *models.CombinedVibration `json:"effect"`
}

// vibrationView is the JSON shape of a live vibration.
type vibrationView struct {
	ID        int64         `json:"id"`
	Token     string        `json:"token"`
	Status    models.Status `json:"status"`
	UID       int           `json:"uid"`
	Package   string        `json:"package,omitempty"`
	Usage     models.Usage  `json:"usage"`
	CreatedAt time.Time     `json:"created_at"`
}

func viewOf(v *models.Vibration) vibrationView {
	return vibrationView{
		ID:        v.ID,
		Token:     v.Token,
		Status:    v.Status(),
		UID:       v.Caller.UID,
		Package:   v.Caller.Package,
		Usage:     v.Caller.Usage,
		CreatedAt: v.CreatedAt,
	}
}

func (s *Server) vibrateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.vibrateHandler: processing vibrate request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req vibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.vibrateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Usage == "" {
		req.Usage = models.UsageUnknown
	}
	caller := models.CallerInfo{UID: req.UID, Package: req.Package, Usage: req.Usage}
	vib, err := s.mgr.Submit(r.Context(), caller, req.Effect)
	if err != nil {
		slog.Warn("Server.vibrateHandler: submission rejected", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.vibrateHandler: vibration submitted", "vibration", vib.ID, "status", vib.Status())
	writeJSONResponse(w, http.StatusOK, models.Success(viewOf(vib)))
}

// cancelRequest selects the cancellation reason and urgency. A usage, when
// given, only cancels a vibration submitted for that usage.
type cancelRequest struct {
	Reason    models.CancelReason `json:"reason"`
	Usage     models.Usage        `json:"usage,omitempty"`
	Immediate bool                `json:"immediate"`
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.cancelHandler: processing cancel request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.cancelHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Reason == "" {
		req.Reason = models.CancelByUser
	}
	if req.Usage != "" && !models.IsValidUsage(req.Usage) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown usage"))
		return
	}
	err := s.mgr.CancelUsage(r.Context(), req.Usage, req.Reason, req.Immediate)
	if errors.Is(err, manager.ErrNotVibrating) {
		// Cancellation is idempotent.
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("No vibration playing", nil))
		return
	}
	if err != nil {
		slog.Warn("Server.cancelHandler: cancel failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Cancellation requested", nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	type statusView struct {
		Vibrating bool           `json:"vibrating"`
		Current   *vibrationView `json:"current,omitempty"`
	}
	view := statusView{Vibrating: s.mgr.IsVibrating()}
	if cur := s.mgr.Current(); cur != nil {
		v := viewOf(cur)
		view.Current = &v
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) devicesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	type deviceView struct {
		ID        int       `json:"id"`
		Vibrating bool      `json:"vibrating"`
		Info      *hal.Info `json:"info"`
	}
	var devices []deviceView
	for id, ctrl := range s.mgr.Controllers() {
		devices = append(devices, deviceView{ID: id, Vibrating: ctrl.Vibrating(), Info: ctrl.Info()})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(devices))
}

func (s *Server) vibrationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = parsed
	}
	records, err := s.st.ListVibrations(limit)
	if err != nil {
		slog.Error("Server.vibrationsHandler: failed to list vibrations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list vibrations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// intensityRequest sets the user intensity for one usage.
type intensityRequest struct {
	Usage     models.Usage     `json:"usage"`
	Intensity models.Intensity `json:"intensity"`
}

func (s *Server) intensityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.mgr.Intensities()))
	case http.MethodPut:
		var req intensityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.intensityHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := s.mgr.SetIntensity(r.Context(), req.Usage, req.Intensity); err != nil {
			slog.Warn("Server.intensityHandler: update rejected", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intensity updated", nil))
	case http.MethodDelete:
		usage := models.Usage(r.URL.Query().Get("usage"))
		if err := s.mgr.RemoveIntensity(r.Context(), usage); err != nil {
			slog.Warn("Server.intensityHandler: revert rejected", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intensity reverted to default", nil))
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// adaptiveScaleRequest installs a per-usage adaptive multiplier.
type adaptiveScaleRequest struct {
	Usage models.Usage `json:"usage"`
	Scale float64      `json:"scale"`
}

func (s *Server) adaptiveScaleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodPost:
		var req adaptiveScaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.adaptiveScaleHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := s.mgr.SetAdaptiveScale(req.Usage, req.Scale); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Adaptive scale set", nil))
	case http.MethodDelete:
		raw := r.URL.Query().Get("usage")
		if raw == "" {
			// No usage selects a full reset.
			s.mgr.ClearAdaptiveScales()
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All adaptive scales removed", nil))
			return
		}
		usage := models.Usage(raw)
		if !models.IsValidUsage(usage) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown usage"))
			return
		}
		s.mgr.RemoveAdaptiveScale(usage)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Adaptive scale removed", nil))
	default:
		w.Header().Set("Allow", "POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// externalControlRequest toggles external control on one actuator.
type externalControlRequest struct {
	Actuator int  `json:"actuator"`
	Enabled  bool `json:"enabled"`
}

func (s *Server) externalControlHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req externalControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.externalControlHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.mgr.SetExternalControl(r.Context(), req.Actuator, req.Enabled); err != nil {
		slog.Warn("Server.externalControlHandler: request rejected", "error", err, "actuator", req.Actuator)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("External control updated", nil))
}
