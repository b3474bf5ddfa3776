// Package api exposes the ensemble and the assistant over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/store"
)

type Ensemble interface {
	Predict(ctx context.Context, in predictor.Input) (schema.EnsembleResponse, error)
	PredictOne(ctx context.Context, name string, in predictor.Input) (schema.PredictionResult, error)
	Has(name string) bool
}

type Assistant interface {
	Run(ctx context.Context, req assistant.Request, debug bool) (*assistant.Response, error)
	Stream(ctx context.Context, req assistant.Request) (<-chan assistant.Event, error)
}

// Records is the part of the record store the handlers read and write.
type Records interface {
	ListEvaluations(ctx context.Context, kind string, limit int) ([]store.EvaluationRecord, error)
	SavePrediction(ctx context.Context, rec *store.PredictionRecord) error
}

type Uploader interface {
	Upload(ctx context.Context, index string, docs []schema.Document) error
}

// Deps are the collaborators of the HTTP boundary. Nil members disable the
// routes that need them.
type Deps struct {
	Ensemble      Ensemble
	Assistant     Assistant
	Records       Records
	Uploader      Uploader
	TrainingIndex string
}

type Server struct {
	cfg  config.ServerConfig
	deps Deps
	// background persistence, drained on shutdown
	wg sync.WaitGroup
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.TrainingIndex == "" {
		deps.TrainingIndex = "messages"
	}
	return &Server{cfg: cfg, deps: deps}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/prometheus", gin.WrapH(promhttp.Handler()))

	if s.deps.Ensemble != nil {
		r.POST("/predict", s.predict)
		r.POST("/xgboost/predict", func(c *gin.Context) { s.predictModel(c, "xgboost") })
		r.POST("/generative/:model", func(c *gin.Context) { s.predictModel(c, c.Param("model")) })
	}
	if s.deps.Assistant != nil {
		r.POST("/chat", s.chat)
		r.POST("/chat/stream", s.chatStream)
	}
	if s.deps.Records != nil {
		r.GET("/metrics", s.evaluationMetrics)
	}
	if s.deps.Uploader != nil {
		r.POST("/continous_training", s.continuousTraining)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.With("method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status()).
			Debugf("request served in %v", time.Since(start))
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening on %s", s.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Millis(s.cfg.ShutdownTimeoutMs, 10*time.Second))
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.drain(shutdownCtx)
	return err
}

func (s *Server) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("http: shutdown before pending predictions were stored")
	}
}
