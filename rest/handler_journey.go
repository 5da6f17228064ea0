package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/metadata"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
)

func (s *Server) HandleCreateJourney(w http.ResponseWriter, r *http.Request) {
	var def model.JourneyDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	result, err := s.metadataService.SaveDraft(def)
	if err != nil {
		if errors.Is(err, metadata.ErrInvalidDefinition) {
			respondWithJSON(w, http.StatusBadRequest, result)
			return
		}
		logger.Error("error creating journey", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error creating journey")
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleActivateJourney(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	version, result, err := s.metadataService.Activate(name)
	if err != nil {
		if errors.Is(err, metadata.ErrInvalidDefinition) {
			respondWithJSON(w, http.StatusBadRequest, result)
			return
		}
		if errors.Is(err, persistence.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "journey does not exist")
			return
		}
		logger.Error("error activating journey", zap.String("journey", name), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error activating journey")
		return
	}
	respondOK(w, map[string]any{"activated": true, "version": version})
}

func (s *Server) HandleGetJourney(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	def, err := s.metadataService.GetActive(name)
	if err != nil {
		logger.Info("journey does not exist", zap.String("name", name))
		respondWithError(w, http.StatusNotFound, "journey does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeleteJourney(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	if err := s.metadataService.Delete(name); err != nil {
		logger.Error("error deleting journey", zap.String("journey", name), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error deleting journey")
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}
