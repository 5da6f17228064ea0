package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/metadata"
	"github.com/sendloop/journey/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port            int
	metadataService metadata.MetadataService
	runService      *service.RunService
}

func NewServer(httpPort int, metadataService metadata.MetadataService, runService *service.RunService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		metadataService: metadataService,
		runService:      runService,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/journey", s.HandleCreateJourney).Methods(http.MethodPost)
	router.HandleFunc("/journey/{name}", s.HandleGetJourney).Methods(http.MethodGet)
	router.HandleFunc("/journey/{name}", s.HandleDeleteJourney).Methods(http.MethodDelete)
	router.HandleFunc("/journey/{name}/activate", s.HandleActivateJourney).Methods(http.MethodPost)
	router.HandleFunc("/trigger", s.HandleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/run/{id}", s.HandleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/run/{id}/stop", s.HandleStopRun).Methods(http.MethodPost)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload map[string]any) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
