package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/delegation-governance/internal/console/handler"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
	"go.uber.org/zap"
)

// Handlers — обработчики бизнес-доменов консоли.
type Handlers struct {
	Delegations *handler.DelegationHandler // /v1/delegations, /v1/report, /v1/conflicts
	Approvals   *handler.ApprovalHandler   // /v1/approvals
	Audit       *handler.AuditHandler      // /v1/delegations/{id}/events...
	Continuity  *handler.ContinuityHandler // successors, absences, replacements
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256) или AllowAll при выключенной авторизации
	authValidator auth.TokenValidator

	h Handlers
}

// NewConsoleServer инициализирует API governance со всеми зависимостями
func NewConsoleServer(logger *zap.Logger, validator auth.TokenValidator, h Handlers) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		h:             h,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. Защищенный периметр ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		read := r.With(auth.RequireScope(auth.ScopeRead))
		write := r.With(auth.RequireScope(auth.ScopeWrite))

		// Делегации, здоровье и конфликты
		read.Get("/v1/report", s.h.Delegations.Report)
		read.Get("/v1/conflicts", s.h.Delegations.Conflicts)
		write.Post("/v1/conflicts/{id}/resolve", s.h.Delegations.ResolveConflict)
		write.Post("/v1/commands", s.h.Delegations.Execute)

		read.Get("/v1/delegations", s.h.Delegations.List)
		write.Post("/v1/delegations", s.h.Delegations.Create)
		read.Get("/v1/delegations/{id}", s.h.Delegations.Get)
		read.Get("/v1/delegations/{id}/health", s.h.Delegations.Health)
		write.Post("/v1/delegations/{id}/restore", s.h.Delegations.Restore)

		// Журнал
		read.Get("/v1/delegations/{id}/events", s.h.Audit.Events)
		write.Post("/v1/delegations/{id}/events", s.h.Audit.Record)
		read.Get("/v1/delegations/{id}/changes", s.h.Audit.Changes)
		read.Get("/v1/delegations/{id}/compare", s.h.Audit.Compare)
		read.Get("/v1/delegations/{id}/trail", s.h.Audit.Trail)
		read.Get("/v1/delegations/{id}/export", s.h.Audit.Export)

		// Human-in-the-loop (Approvals)
		read.Get("/v1/approvals", s.h.Approvals.List)
		write.Post("/v1/approvals", s.h.Approvals.Create)
		read.Get("/v1/approvals/workflows", s.h.Approvals.Workflows)
		read.Get("/v1/approvals/{id}", s.h.Approvals.GetDetails)
		write.Post("/v1/approvals/{id}/decide", s.h.Approvals.Decide)
		write.Post("/v1/approvals/{id}/delegate", s.h.Approvals.DelegateDecision)
		write.Post("/v1/approvals/{id}/cancel", s.h.Approvals.Cancel)

		// Непрерывность
		read.Get("/v1/delegations/{id}/successors", s.h.Continuity.Successors)
		write.Post("/v1/delegations/{id}/successors", s.h.Continuity.DesignateSuccessor)
		write.Post("/v1/successors/{id}/decline", s.h.Continuity.DeclineSuccessor)
		read.Get("/v1/delegations/{id}/replacements", s.h.Continuity.Replacements)
		write.Post("/v1/replacements", s.h.Continuity.AssignReplacement)
		write.Post("/v1/replacements/{id}/{action}", s.h.Continuity.Transition)
		read.Get("/v1/absences", s.h.Continuity.Absences)
		write.Post("/v1/absences", s.h.Continuity.DeclareAbsence)
		read.Get("/v1/continuity/uncovered", s.h.Continuity.Uncovered)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
