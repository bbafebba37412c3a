package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/fintrack/internal/completion"
	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/mutation"
	"github.com/example/fintrack/internal/security"
	"github.com/example/fintrack/pkg/audit"
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

type Dependencies struct {
	Logger *slog.Logger

	Conversation *completion.Conversation
	Handler      *completion.Handler
	Containers   container.Repository
	Audits       mutation.AuditRepository

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	messageV, err := security.NewJSONSchemaValidator(messageSchema)
	if err != nil {
		return nil, err
	}
	containerV, err := security.NewJSONSchemaValidator(createContainerSchema)
	if err != nil {
		return nil, err
	}
	reverseV, err := security.NewJSONSchemaValidator(reverseTransactionSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(messageV.Middleware).Post("/messages", handleMessage(deps))

		r.Route("/containers", func(r chi.Router) {
			r.Get("/", handleListContainers(deps))

			create := r.With(containerV.Middleware)
			create.Post("/", handleCreateContainer(deps))

			r.Get("/{id}/adjustments", handleListAdjustments(deps))
		})

		r.With(reverseV.Middleware).Post("/transactions/{id}/reverse", handleReverseTransaction(deps))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handleSessionState(deps))
			r.Delete("/", handleAbandonSession(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
