// Package httpapi is the JSON transport shell over the batch service, the forecast
// collaborator and the transaction journal.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"coffeechain/internal/journal"
	"coffeechain/pkg/batch"
	"coffeechain/pkg/forecast"
	"coffeechain/pkg/observability"
	"coffeechain/pkg/version"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// BatchService is the orchestration surface the API exposes.
type BatchService interface {
	CreateBatch(ctx context.Context, in batch.CreateBatchInput) (*batch.Receipt, error)
	UpdateStage(ctx context.Context, in batch.UpdateStageInput) (*batch.Receipt, error)
	UpdateInventory(ctx context.Context, in batch.UpdateInventoryInput) (*batch.Receipt, error)
	DistributeBatch(ctx context.Context, in batch.DistributeBatchInput) (*batch.Receipt, error)
	GetBatch(ctx context.Context, id batch.Arg) (batch.Batch, error)
	GetBatches(ctx context.Context) ([]batch.Batch, error)
}

// TransactionLister returns the newest journal entries.
type TransactionLister interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config wires a Server. Only Service is required.
type Config struct {
	Service BatchService
	// Transactions serves GET /api/transactions; the route answers 404 when nil.
	Transactions TransactionLister
	Telemetry    *observability.Provider
	Logger       *slog.Logger
	// AuthSecret enables HS256 bearer tokens on the mutating batch routes.
	AuthSecret     string
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	// Predict defaults to forecast.PredictDemand.
	Predict func([]forecast.Point) (int64, error)
}

// Server routes HTTP requests to the batch service.
type Server struct {
	service      BatchService
	transactions TransactionLister
	telemetry    *observability.Provider
	logger       *slog.Logger
	secret       []byte
	limiter      *RateLimiter
	timeout      time.Duration
	predict      func([]forecast.Point) (int64, error)

	objectSchema   *jsonschema.Schema
	forecastSchema *jsonschema.Schema
}

// New compiles the request schemas and starts the rate limiter. Call Close to stop it.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("httpapi: batch service is required")
	}
	objectSchema, err := compileSchema("object.json", objectSchemaJSON)
	if err != nil {
		return nil, err
	}
	forecastSchema, err := compileSchema("forecast.json", forecastSchemaJSON)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	predict := cfg.Predict
	if predict == nil {
		predict = forecast.PredictDemand
	}
	s := &Server{
		service:        cfg.Service,
		transactions:   cfg.Transactions,
		telemetry:      cfg.Telemetry,
		logger:         logger.With("component", "httpapi"),
		timeout:        cfg.RequestTimeout,
		predict:        predict,
		objectSchema:   objectSchema,
		forecastSchema: forecastSchema,
	}
	if cfg.AuthSecret != "" {
		s.secret = []byte(cfg.AuthSecret)
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s, nil
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.accessLog, middleware.Recoverer, s.track)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, kindNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, kindInvalidRequest, "method not allowed")
	})

	r.Get("/healthz", s.health)

	r.Route("/api", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Use(s.deadline)

		api.Group(func(mut chi.Router) {
			mut.Use(s.requireToken)
			mut.Post("/batch", s.createBatch)
			mut.Post("/batch/{id}/stage", s.updateStage)
			mut.Post("/batch/{id}/inventory", s.updateInventory)
			mut.Post("/batch/{id}/distribute", s.distributeBatch)
		})
		api.Get("/batch/{id}", s.getBatch)
		api.Get("/batches", s.getBatches)
		api.Post("/forecast", s.forecast)
		api.Get("/transactions", s.listTransactions)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version()})
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.CreateBatch(r.Context(), batch.CreateBatchInput{
		Origin:    batch.Raw(fields["origin"]),
		Inventory: batch.Raw(fields["inventory"]),
	})
	s.respond(w, r, receipt, err)
}

func (s *Server) updateStage(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.UpdateStage(r.Context(), batch.UpdateStageInput{
		ID:    pathID(r),
		Stage: batch.Raw(fields["stage"]),
	})
	s.respond(w, r, receipt, err)
}

func (s *Server) updateInventory(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.UpdateInventory(r.Context(), batch.UpdateInventoryInput{
		ID:        pathID(r),
		Inventory: batch.Raw(fields["inventory"]),
	})
	s.respond(w, r, receipt, err)
}

func (s *Server) distributeBatch(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.DistributeBatch(r.Context(), batch.DistributeBatchInput{
		ID:          pathID(r),
		Distributor: batch.Raw(fields["distributor"]),
	})
	s.respond(w, r, receipt, err)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.GetBatch(r.Context(), pathID(r))
	s.respond(w, r, b, err)
}

func (s *Server) getBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.GetBatches(r.Context())
	if err == nil && batches == nil {
		batches = []batch.Batch{}
	}
	s.respond(w, r, batches, err)
}

func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HistoricalData [][]float64 `json:"historicalData"`
	}
	if !s.decode(w, r, s.forecastSchema, &body) {
		return
	}
	series := make([]forecast.Point, 0, len(body.HistoricalData))
	for _, pair := range body.HistoricalData {
		series = append(series, forecast.Point{Period: pair[0], Quantity: pair[1]})
	}
	prediction, err := s.predict(series)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, kindInvalidArgument, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"predictedDemand": prediction})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	if s.transactions == nil {
		writeError(w, r, http.StatusNotFound, kindNotFound, "transaction journal is disabled")
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, kindInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	entries, err := s.transactions.List(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list transactions", "err", err)
		writeError(w, r, http.StatusInternalServerError, kindInternal, "unable to read the transaction journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// respond writes v, or maps err onto a status and error body.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError && kind != kindInternal {
			s.logger.WarnContext(r.Context(), "request failed",
				"request_id", RequestIDFrom(r.Context()), "subject", SubjectFrom(r.Context()), "kind", kind, "err", err)
		}
		msg := batch.Message(err)
		if kind == kindInternal {
			s.logger.ErrorContext(r.Context(), "unexpected service error",
				"request_id", RequestIDFrom(r.Context()), "err", err)
			msg = "internal error"
		}
		writeError(w, r, status, kind, msg)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func pathID(r *http.Request) batch.Arg {
	return batch.Segment(chi.URLParam(r, "id"))
}
