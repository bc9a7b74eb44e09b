package httpapi

import (
	"fmt"
	"net/http"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/infrastructure/httputil"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

// ovosTrainResponse is the voice-assistant-friendly wrapper: a
// natural-language `message` plus the machine-readable fields a skill can
// branch on.
type ovosTrainResponse struct {
	Triggered    bool    `json:"triggered"`
	Reason       string  `json:"reason,omitempty"`
	Message      string  `json:"message"`
	ModelVersion int     `json:"model_version,omitempty"`
	RSquared     float64 `json:"r_squared,omitempty"`
}

// ovosTrainBaseline wraps POST /baseline/train for the voice assistant: auto
// feature selection when features is empty, and a `{triggered:false,
// reason}` body instead of an HTTP error when a training job is already
// running for the scope.
func (h *Handler) ovosTrainBaseline(w http.ResponseWriter, r *http.Request) {
	if h.baseline == nil {
		writeError(w, r, svcerrors.TransientUnavailable("baseline engine", nil))
		return
	}
	var body struct {
		MachineID    string   `json:"machine_id"`
		EnergySource string   `json:"energy_source"`
		Features     []string `json:"features"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.MachineID == "" {
		writeError(w, r, svcerrors.MissingParameter("machine_id"))
		return
	}
	if body.EnergySource == "" {
		body.EnergySource = domain.EnergySourceElectricity
	}
	scope := domain.Scope{MachineID: body.MachineID}

	if running, found, err := h.store.RunningTrainingJob(r.Context(), scope, domain.ModelTypeBaseline); err != nil {
		writeError(w, r, err)
		return
	} else if found && running.Status == domain.TrainingStatusRunning {
		writeJSON(w, http.StatusOK, ovosTrainResponse{
			Triggered: false,
			Reason:    "Training already in progress",
			Message:   "A training job for this machine is already running. Try again shortly.",
		})
		return
	}

	src, err := h.store.EnergySourceByKey(r.Context(), body.EnergySource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, _ := parseJSONWindow("", "")

	job, err := h.store.CreateTrainingJob(r.Context(), domain.TrainingJob{
		MachineID: scope.MachineID, ModelType: domain.ModelTypeBaseline,
		Status: domain.TrainingStatusRunning, StartedAt: timeNow(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.bus != nil {
		h.bus.Publish(r.Context(), domain.ChannelTrainingStarted, domain.TrainingStartedEvent{
			EventType: domain.ChannelTrainingStarted, JobID: job.ID, MachineID: scope.MachineID,
			ModelType: domain.ModelTypeBaseline, PublishedAt: timeNow(),
		})
	}

	model, trainErr := h.baseline.Train(r.Context(), scope, body.EnergySource, src.ID, window, body.Features)

	finished := timeNow()
	job.FinishedAt = &finished
	if trainErr != nil {
		job.Status = domain.TrainingStatusFailed
		job.Error = trainErr.Error()
		_ = h.store.UpdateTrainingJob(r.Context(), job)
		if h.bus != nil {
			h.bus.Publish(r.Context(), domain.ChannelTrainingCompleted, domain.TrainingCompletedEvent{
				EventType: domain.ChannelTrainingCompleted, JobID: job.ID,
				Status: domain.TrainingStatusFailed, ErrorMessage: trainErr.Error(), PublishedAt: timeNow(),
			})
		}
		writeJSON(w, http.StatusOK, ovosTrainResponse{
			Triggered: true, Message: "Training started but failed: " + trainErr.Error(),
		})
		return
	}
	job.Status = domain.TrainingStatusSucceeded
	job.ModelID = model.ID
	if model.MeetsQuality {
		if activateErr := h.baseline.Activate(r.Context(), scope, src.ID, model.ID); activateErr != nil {
			h.log.WithError(activateErr).Warn("httpapi: ovos activate trained baseline")
		}
	}
	_ = h.store.UpdateTrainingJob(r.Context(), job)

	quality := "did not meet"
	if model.MeetsQuality {
		quality = "met"
	}
	writeJSON(w, http.StatusOK, ovosTrainResponse{
		Triggered: true, ModelVersion: model.ModelVersion, RSquared: model.RSquared,
		Message: fmt.Sprintf("Training complete for model version %d. The model %s the quality threshold with an R-squared of %.2f.",
			model.ModelVersion, quality, model.RSquared),
	})
}
