package portal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// factoryResetConfirm must be echoed back to wipe the device.
const factoryResetConfirm = "factory-reset"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"link":    snap.Link,
		"session": snap.Session,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Snapshot())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Snapshot().Redacted())
}

type settingsResponse struct {
	Settings settings.Settings `json:"settings"`
	Changed  map[string]bool   `json:"changed"`
}

// handleUpdateSettings saves a settings document. Masked or empty
// passwords keep their stored value.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in settings.Settings
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	changed, err := s.settings.Update(r.Context(), in)
	if err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			writeValidationError(w, err)
			return
		}
		s.logger.Error("saving settings", "error", err)
		writeInternalError(w, "failed to save settings")
		return
	}

	s.logger.Info("settings updated from portal",
		"operator", operator(r.Context()), "changed", uint8(changed))
	writeJSON(w, http.StatusOK, settingsResponse{
		Settings: s.settings.Snapshot().Redacted(),
		Changed: map[string]bool{
			"identity": changed.Has(settings.ChangedIdentity),
			"wifi":     changed.Has(settings.ChangedWiFi),
			"broker":   changed.Has(settings.ChangedBroker),
			"portal":   changed.Has(settings.ChangedPortal),
		},
	})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if err := s.node.TriggerReset("reboot requested from portal"); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.logger.Warn("reboot requested from portal", "operator", operator(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

type factoryResetRequest struct {
	Confirm string `json:"confirm"`
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	var req factoryResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Confirm != factoryResetConfirm {
		writeBadRequest(w, `confirm must be "`+factoryResetConfirm+`"`)
		return
	}
	if err := s.node.TriggerFactoryReset(); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.logger.Warn("factory reset requested from portal", "operator", operator(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resetting"})
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, node.ErrActionQueueFull) {
		writeError(w, http.StatusServiceUnavailable, ErrCodeBusy, "another action is pending")
		return
	}
	s.logger.Error("queueing portal action", "error", err)
	writeInternalError(w, "failed to queue action")
}
