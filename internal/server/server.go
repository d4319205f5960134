// Package server exposes backtests over HTTP.
//
// Routes:
//
//	GET  /health          liveness and provider name
//	POST /runs            run a backtest; the body overrides loaded settings
//	GET  /runs/{runID}    fetch a recent result by id
//
// Results are kept in memory for ResultTTL.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/contactkeval/wheel-replay/internal/backtest/engine"
	"github.com/contactkeval/wheel-replay/internal/config"
	"github.com/contactkeval/wheel-replay/internal/data"
	"github.com/contactkeval/wheel-replay/internal/logger"
)

// ResultTTL is how long a finished run stays retrievable.
const ResultTTL = time.Hour

const maxBodyBytes = 1 << 16

type Server struct {
	cfg     *config.Config
	prov    data.Provider
	limiter *rate.Limiter
	results *cache.Cache
	router  chi.Router
}

// RunResponse is the body returned for a run.
type RunResponse struct {
	RunID  string         `json:"run_id"`
	Result *engine.Result `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds a server whose runs start from cfg and read through prov.
func New(cfg *config.Config, prov data.Provider) *Server {
	rps := rate.Limit(cfg.Server.RequestsPerSecond)
	if cfg.Server.RequestsPerSecond <= 0 {
		rps = rate.Inf
	}
	burst := cfg.Server.Burst
	if burst < 1 {
		burst = 1
	}
	s := &Server{
		cfg:     cfg,
		prov:    prov,
		limiter: rate.NewLimiter(rps, burst),
		results: cache.New(ResultTTL, 10*time.Minute),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.health)
	r.Route("/runs", func(r chi.Router) {
		r.With(s.rateLimit).Post("/", s.createRun)
		r.Get("/{runID}", s.getRun)
	})
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Infof("event=server_start addr=%s provider=%s", s.cfg.Server.Addr, s.prov.Name())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

//
// --- Handlers ---
//

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": s.prov.Name()})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var o config.Overrides
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&o); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	cfg, err := s.cfg.WithOverrides(o)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	eng, err := engine.NewEngine(ecfg, s.prov)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	res, err := eng.Run(r.Context())
	if err != nil {
		logger.Errorf("event=run_failed request_id=%s err=%v", middleware.GetReqID(r.Context()), err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	id := uuid.NewString()
	s.results.SetDefault(id, res)
	logger.Infof("event=run_done run_id=%s underlying=%s trades=%d", id, res.Summary.Underlying, len(res.Trades))
	writeJSON(w, http.StatusCreated, RunResponse{RunID: id, Result: res})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	v, ok := s.results.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{RunID: id, Result: v.(*engine.Result)})
}

//
// --- Middleware ---
//

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			logger.Warnf("event=rate_limited path=%s", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugf(
			"event=http request_id=%s method=%s path=%s status=%d elapsed=%s",
			middleware.GetReqID(r.Context()), r.Method, r.URL.Path, ww.Status(), time.Since(start),
		)
	})
}

//
// --- Helpers ---
//

// statusFor maps run errors onto HTTP statuses: bad settings are the
// caller's fault, missing market data is unprocessable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoCalendar),
		errors.Is(err, engine.ErrNoPriceData),
		errors.Is(err, engine.ErrNoEntryDates),
		errors.Is(err, engine.ErrCatalogEmpty),
		errors.Is(err, engine.ErrCatalogUnmatched),
		errors.Is(err, engine.ErrCatalogIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("event=write_response err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
