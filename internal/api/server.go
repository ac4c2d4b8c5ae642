package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// maxBodyBytes bounds request bodies; a transaction is a few hundred bytes.
const maxBodyBytes = 1 << 20

// Server is the FraudGuard HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the routes for deps.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	return &Server{
		router:  newRouter(handler),
		handler: handler,
		config:  cfg,
	}
}

func newRouter(h *Handler) *chi.Mux {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.CleanPath)
	router.Use(middleware.RequestSize(maxBodyBytes))
	router.Use(middleware.Compress(5))

	router.Get("/", h.Welcome)
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)

	router.Route("/api/v1", func(r chi.Router) {
		// Scores without persisting.
		r.Post("/predict_fraud", h.PredictFraud)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.CreateTransaction)
			r.Get("/", h.ListTransactions)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTransaction)
				r.Put("/", h.UpdateTransaction)
				r.Delete("/", h.DeleteTransaction)

				r.Post("/score", h.ScoreTransaction)
				r.Post("/enqueue", h.EnqueueTransaction)
				r.Get("/verdict", h.GetVerdict)
				r.Get("/verdicts", h.ListVerdicts)
			})
		})

		r.Post("/datasets", h.GenerateDataset)
	})

	return router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       seconds(s.config.ReadTimeout, 30),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      seconds(s.config.WriteTimeout, 30),
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
