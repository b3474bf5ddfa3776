package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/store"
)

func statusFor(err error) int {
	switch errdefs.KindOf(err) {
	case errdefs.KindInvalidInput, errdefs.KindUnknownRole:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Errorf("%s: %v", op, err)
	}
	c.AbortWithStatusJSON(code, Error(err))
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Error(errdefs.InvalidInput("decode", err)))
}

// predict runs the whole roster.
func (s *Server) predict(c *gin.Context) {
	var in PredictRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.deps.Ensemble.Predict(c.Request.Context(), predictor.Input{Text: in.Text, Image: in.Image})
	if err != nil {
		fail(c, "predict", err)
		return
	}
	s.persist(in, resp)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) persist(in PredictRequest, resp schema.EnsembleResponse) {
	if !s.cfg.PersistPredictions || s.deps.Records == nil {
		return
	}
	rec := &store.PredictionRecord{
		ID:       uuid.NewString(),
		Text:     in.Text,
		HasImage: in.Image != "",
		Response: resp,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Records.SavePrediction(ctx, rec); err != nil {
			logger.Warnf("predict: store response %s: %v", rec.ID, err)
		}
	}()
}

func (s *Server) predictModel(c *gin.Context, name string) {
	if !s.deps.Ensemble.Has(name) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "NotFound", Detail: "unknown model " + name})
		return
	}
	var in TextInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.deps.Ensemble.PredictOne(c.Request.Context(), name, predictor.Input{Text: in.Text})
	if err != nil {
		fail(c, "predict "+name, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) chat(c *gin.Context) {
	var req assistant.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	debug := c.Query("debug") == "true" || c.Query("debug") == "1"
	resp, err := s.deps.Assistant.Run(c.Request.Context(), req, debug)
	if err != nil {
		fail(c, "chat", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// chatStream writes assistant events as server-sent events until the end or
// error event.
func (s *Server) chatStream(c *gin.Context) {
	var req assistant.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	events, err := s.deps.Assistant.Stream(c.Request.Context(), req)
	if err != nil {
		fail(c, "chat stream", err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// the channel closes after the terminal event or once the client is gone
	for ev := range events {
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
	}
}

// evaluationMetrics lists stored evaluation runs, newest first.
func (s *Server) evaluationMetrics(c *gin.Context) {
	records, err := s.deps.Records.ListEvaluations(c.Request.Context(), c.Query("kind"), 0)
	if err != nil {
		fail(c, "metrics", err)
		return
	}
	if len(records) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "NotFound", Detail: "No items found."})
		return
	}
	c.JSON(http.StatusOK, MetricsResponse(records))
}

// continuousTraining uploads a labelled message to the training index.
func (s *Server) continuousTraining(c *gin.Context) {
	var in NewKnowledge
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	label := strings.ToLower(strings.TrimSpace(in.Label))
	if label != schema.LabelSpam && label != schema.LabelHam {
		fail(c, "continuous training", errdefs.InvalidInputf("continuous training", "label must be spam or ham, got %q", in.Label))
		return
	}
	doc := search.NewTrainingDocument(in.Text, label)
	if err := s.deps.Uploader.Upload(c.Request.Context(), s.deps.TrainingIndex, []schema.Document{doc}); err != nil {
		fail(c, "continuous training", err)
		return
	}
	logger.Infof("continuous training: uploaded %s to %s", doc.ID, s.deps.TrainingIndex)
	c.JSON(http.StatusOK, gin.H{"id": doc.ID, "uploaded": 1})
}
