package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/infrastructure/httputil"
	"github.com/acme-industrial/enms-analytics/internal/app/domain"
)

func (h *Handler) listBaselineModels(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models, err := h.store.ListBaselines(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *Handler) getBaselineModel(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["model_id"]
	model, err := h.store.BaselineByID(r.Context(), modelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) getBaselineModelPerformance(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["model_id"]
	model, err := h.store.BaselineByID(r.Context(), modelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id":                model.ID,
		"model_version":           model.ModelVersion,
		"r_squared":               model.RSquared,
		"rmse":                    model.RMSE,
		"mae":                     model.MAE,
		"residual_std":            model.ResidualStdDev,
		"training_samples":        model.TrainingSamples,
		"meets_quality_threshold": model.MeetsQuality,
	})
}

func (h *Handler) trainBaseline(w http.ResponseWriter, r *http.Request) {
	if h.baseline == nil {
		writeError(w, r, svcerrors.TransientUnavailable("baseline engine", nil))
		return
	}
	var body struct {
		MachineID    string   `json:"machine_id"`
		SEUID        string   `json:"seu_id"`
		EnergySource string   `json:"energy_source"`
		StartTime    string   `json:"start_time"`
		EndTime      string   `json:"end_time"`
		Features     []string `json:"features"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	scope := domain.Scope{MachineID: body.MachineID, SEUID: body.SEUID}
	if scope.MachineID == "" && scope.SEUID == "" {
		writeError(w, r, svcerrors.MissingParameter("machine_id"))
		return
	}
	if body.EnergySource == "" {
		body.EnergySource = domain.EnergySourceElectricity
	}
	src, err := h.store.EnergySourceByKey(r.Context(), body.EnergySource)
	if err != nil {
		writeError(w, r, err)
		return
	}

	window, err := parseJSONWindow(body.StartTime, body.EndTime)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if running, found, err := h.store.RunningTrainingJob(r.Context(), scope, domain.ModelTypeBaseline); err != nil {
		writeError(w, r, err)
		return
	} else if found && running.Status == domain.TrainingStatusRunning {
		writeError(w, r, svcerrors.Conflict("training already in progress"))
		return
	}

	job, err := h.store.CreateTrainingJob(r.Context(), domain.TrainingJob{
		MachineID: scope.MachineID, SEUID: scope.SEUID, ModelType: domain.ModelTypeBaseline,
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

	model, trainErr := h.baseline.TrainWithProgress(r.Context(), scope, body.EnergySource, src.ID, window, body.Features,
		func(pct float64, stage string) {
			if h.bus == nil {
				return
			}
			h.bus.Publish(r.Context(), domain.ChannelTrainingProgress, domain.TrainingProgressEvent{
				EventType: domain.ChannelTrainingProgress, JobID: job.ID,
				ProgressPct: pct, Status: domain.TrainingStatusRunning, Message: stage,
				PublishedAt: timeNow(),
			})
		})

	finished := timeNow()
	job.FinishedAt = &finished
	if trainErr != nil {
		job.Status = domain.TrainingStatusFailed
		job.Error = trainErr.Error()
		if h.bus != nil {
			h.bus.Publish(r.Context(), domain.ChannelTrainingCompleted, domain.TrainingCompletedEvent{
				EventType: domain.ChannelTrainingCompleted, JobID: job.ID,
				Status: domain.TrainingStatusFailed, ErrorMessage: trainErr.Error(), PublishedAt: timeNow(),
			})
		}
	} else {
		job.Status = domain.TrainingStatusSucceeded
		job.ModelID = model.ID
		if model.MeetsQuality {
			if activateErr := h.baseline.Activate(r.Context(), scope, src.ID, model.ID); activateErr != nil {
				h.log.WithError(activateErr).Warn("httpapi: activate trained baseline")
			}
		}
	}
	if updateErr := h.store.UpdateTrainingJob(r.Context(), job); updateErr != nil {
		h.log.WithError(updateErr).Warn("httpapi: update training job")
	}

	if trainErr != nil {
		writeError(w, r, trainErr)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) predictBaseline(w http.ResponseWriter, r *http.Request) {
	if h.baseline == nil {
		writeError(w, r, svcerrors.TransientUnavailable("baseline engine", nil))
		return
	}
	var body struct {
		MachineID    string             `json:"machine_id"`
		SEUID        string             `json:"seu_id"`
		EnergySource string             `json:"energy_source"`
		Features     map[string]float64 `json:"features"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	scope := domain.Scope{MachineID: body.MachineID, SEUID: body.SEUID}
	if body.EnergySource == "" {
		body.EnergySource = domain.EnergySourceElectricity
	}
	src, err := h.store.EnergySourceByKey(r.Context(), body.EnergySource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	predicted, version, message, err := h.baseline.Predict(r.Context(), scope, src.ID, body.Features)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predicted": predicted, "model_version": version, "message": message,
	})
}

func (h *Handler) getBaselineDeviation(w http.ResponseWriter, r *http.Request) {
	if h.baseline == nil {
		writeError(w, r, svcerrors.TransientUnavailable("baseline engine", nil))
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := parseWindow(r, "start_time", "end_time")
	if err != nil {
		writeError(w, r, err)
		return
	}
	energySource := r.URL.Query().Get("energy_source")
	if energySource == "" {
		energySource = domain.EnergySourceElectricity
	}
	src, err := h.store.EnergySourceByKey(r.Context(), energySource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.baseline.Deviation(r.Context(), scope, energySource, src.ID, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
