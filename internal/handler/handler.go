package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/service"
)

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db          HealthChecker
	rdb         HealthChecker
	log         *logger.Logger
	cfg         *config.Config
	dispatchSvc *service.DispatchService
}

// New creates a new Handler instance. rdb may be nil when Redis is not used.
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, dispatchSvc *service.DispatchService) *Handler {
	return &Handler{
		db:          db,
		rdb:         rdb,
		log:         log,
		cfg:         cfg,
		dispatchSvc: dispatchSvc,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
