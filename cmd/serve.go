package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/monitoring"
	"github.com/sells-group/concept-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP extraction service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, true, true)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, cfg.Monitoring.LowConfidenceBelow)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, collector, cfg.Server.AllowedOrigins, cfg.Server.MaxBodyBytes),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// server holds the dependencies of the HTTP handlers.
type server struct {
	env       *pipelineEnv
	collector *monitoring.Collector
	maxBody   int64
}

// newRouter builds the HTTP route tree.
func newRouter(env *pipelineEnv, collector *monitoring.Collector, origins []string, maxBody int64) http.Handler {
	s := &server{env: env, collector: collector, maxBody: maxBody}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if env.Metrics != nil {
		r.Handle("/metrics", env.Metrics.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Post("/extract", s.handleExtract)
		api.Get("/results/{docID}", s.handleGetResult)
		api.Get("/runs", s.handleListRuns)
		api.Get("/runs/{runID}", s.handleGetRun)
		api.Get("/stats", s.handleStats)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// extractRequest is the POST /v1/extract body.
type extractRequest struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract"`
	Keywords   []string `json:"keywords"`
	Text       string   `json:"text"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := processDocument(r.Context(), s.env, model.Document{
		ID:       req.DocumentID,
		Title:    req.Title,
		Abstract: req.Abstract,
		Keywords: trimAll(req.Keywords),
		Text:     req.Text,
	})
	if err != nil {
		zap.L().Error("extract request failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		if r.Context().Err() != nil {
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}

	if run.ID != "" {
		w.Header().Set("X-Run-ID", run.ID)
	}
	writeJSON(w, http.StatusOK, run.Result)
}

func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		writeError(w, http.StatusNotFound, "results are not persisted")
		return
	}
	res, err := s.env.Store.GetResultByDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		writeError(w, http.StatusNotFound, "runs are not persisted")
		return
	}
	run, err := s.env.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		writeJSON(w, http.StatusOK, []model.Run{})
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:     model.RunStatus(q.Get("status")),
		DocumentID: q.Get("document_id"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = v
	}

	runs, err := s.env.Store.ListRuns(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil || s.env.Store == nil {
		writeError(w, http.StatusNotFound, "runs are not persisted")
		return
	}
	hours := 24
	if v, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && v > 0 {
		hours = v
	}
	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("store query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
