package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sendloop/journey/engine"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
)

func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	runId, err := s.runService.Trigger(req.Journey, req.SubjectId, req.Data)
	if err != nil {
		if errors.Is(err, engine.ErrAlreadyActive) {
			respondWithError(w, http.StatusConflict, "subject already in an active run")
			return
		}
		logger.Error("error admitting run", zap.String("journey", req.Journey), zap.String("subject", req.SubjectId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error admitting run")
		return
	}
	respondOK(w, map[string]any{"runId": runId})
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runId := vars["id"]
	run, err := s.runService.GetRun(runId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "run does not exist")
			return
		}
		logger.Error("error fetching run", zap.String("runId", runId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error fetching run")
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

func (s *Server) HandleStopRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runId := vars["id"]
	err := s.runService.StopRun(runId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "run does not exist")
			return
		}
		if errors.Is(err, engine.ErrRunFinished) {
			respondWithError(w, http.StatusConflict, "run already finished")
			return
		}
		logger.Error("error stopping run", zap.String("runId", runId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error stopping run")
		return
	}
	respondOK(w, map[string]any{"stopped": true})
}
