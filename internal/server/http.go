package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/triage-ai/palisade/services/plan_guard/internal/auth"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies. Plan length itself is a policy check.
const maxBodyBytes = 1 << 20

type contextKey string

const projectKey contextKey = "project"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type runPlanRequest struct {
	Plan       string `json:"plan" validate:"required"`
	EntryPoint string `json:"entry_point" validate:"omitempty,max=128"`
}

type validatePlanRequest struct {
	Plan string `json:"plan" validate:"required"`
}

type validatePlanResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

var validate = validator.New()

// Handler builds the HTTP API.
func (s *PlanGuardServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/report", s.handleReport)
		r.Post("/session/reset", s.handleReset)
		r.Route("/plans", func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/run", s.handleRun)
			r.Post("/validate", s.handleValidate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "endpoint not found")
	})

	return r
}

func (s *PlanGuardServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runPlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.RunPlan(r.Context(), projectID(r.Context()), req.Plan, req.EntryPoint)
	writeJSON(w, http.StatusOK, res)
}

func (s *PlanGuardServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validatePlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp := validatePlanResponse{OK: true}
	if err := s.ValidatePlan(projectID(r.Context()), req.Plan); err != nil {
		resp = validatePlanResponse{OK: false, Error: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PlanGuardServer) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Report(projectID(r.Context())))
}

func (s *PlanGuardServer) handleReset(w http.ResponseWriter, r *http.Request) {
	s.ResetSession(projectID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body. On failure it has already written
// the response.
func (s *PlanGuardServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return false
		}
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[fe.Field()] = fmt.Sprintf("failed on '%s'", fe.Tag())
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "request validation failed",
			Details: details,
		})
		return false
	}
	return true
}

func (s *PlanGuardServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization")
			return
		}
		project, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				s.logger.Warn("authentication failed",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Error(err),
				)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), projectKey, project)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *PlanGuardServer) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pid := projectID(r.Context())
		if !s.cfg.Throttle.Allow(pid) {
			s.logger.Info("plan submission throttled", zap.String("project_id", pid))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many plan submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *PlanGuardServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func projectID(ctx context.Context) string {
	if p, ok := ctx.Value(projectKey).(*auth.ProjectContext); ok {
		return p.ProjectID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
