package evaluation

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/store"
)

// Predictor runs one named model.
type Predictor interface {
	PredictOne(ctx context.Context, name string, in predictor.Input) (schema.PredictionResult, error)
}

// Recorder stores evaluation reports.
type Recorder interface {
	SaveEvaluations(ctx context.Context, records []store.EvaluationRecord) error
}

// Answerer runs one assistant turn.
type Answerer interface {
	Run(ctx context.Context, req assistant.Request, debug bool) (*assistant.Response, error)
}

type Evaluator struct {
	cfg        config.EvaluationConfig
	recorder   Recorder
	retryDelay time.Duration
}

func New(cfg config.EvaluationConfig, recorder Recorder) *Evaluator {
	return &Evaluator{
		cfg:        cfg,
		recorder:   recorder,
		retryDelay: config.Millis(cfg.RetryDelayMs, 20*time.Second),
	}
}

// withRetry retries an upstream failure once after a fixed sleep.
func (e *Evaluator) withRetry(ctx context.Context, what string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(e.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errdefs.ErrUpstreamService) }),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("evaluation: %s failed, retrying in %v: %v", what, e.retryDelay, err)
		}),
	)
}

// EvaluateEnsemble samples the labelled dataset, runs every model on each
// message and stores one report per model. Rows where any model still fails
// after the retry are skipped.
func (e *Evaluator) EvaluateEnsemble(ctx context.Context, p Predictor, models []string) ([]store.EvaluationRecord, error) {
	rows, err := LoadLabelled(e.cfg.Dataset)
	if err != nil {
		return nil, errdefs.Configuration("evaluation.dataset", err)
	}
	rows = Sample(rows, e.cfg.SampleSize, e.cfg.Seed)
	logger.Infof("evaluation: %d messages, models %v", len(rows), models)

	var truth []string
	preds := make(map[string][]string, len(models))
	for i, row := range rows {
		labels := make([]string, len(models))
		err := e.withRetry(ctx, "prediction", func() error {
			g, gctx := errgroup.WithContext(ctx)
			for j, name := range models {
				j, name := j, name
				g.Go(func() error {
					res, err := p.PredictOne(gctx, name, predictor.Input{Text: row.Message})
					if err != nil {
						return err
					}
					labels[j] = res.Result
					return nil
				})
			}
			return g.Wait()
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Errorf("evaluation: skipping row %d: %v", i, err)
			continue
		}
		truth = append(truth, row.Label)
		for j, name := range models {
			preds[name] = append(preds[name], labels[j])
		}
	}

	runID, now := uuid.NewString(), time.Now().UTC()
	records := make([]store.EvaluationRecord, 0, len(models))
	for _, name := range models {
		report := ClassificationReport(truth, preds[name])
		logger.Infof("evaluation: %s accuracy %.3f over %d messages", name, report.Accuracy, len(truth))
		records = append(records, store.EvaluationRecord{
			RunID:      runID,
			RunTime:    now,
			Kind:       store.KindEnsemble,
			Model:      name,
			Dataset:    e.cfg.Dataset,
			SampleSize: len(truth),
			Metrics:    report.AsMap(),
		})
	}
	if e.recorder != nil {
		if err := e.recorder.SaveEvaluations(ctx, records); err != nil {
			return records, err
		}
	}
	return records, nil
}

// SessionResult is one answered evaluation question.
type SessionResult struct {
	Session  Session
	Response *assistant.Response
	Latency  time.Duration
}

// EvaluateAssistant runs the assistant over a sample of questions. Failed
// sessions are logged and skipped.
func (e *Evaluator) EvaluateAssistant(ctx context.Context, a Answerer) ([]SessionResult, error) {
	sessions, err := LoadSessions(e.cfg.AssistantDataset)
	if err != nil {
		return nil, errdefs.Configuration("evaluation.assistant_dataset", err)
	}
	sessions = Sample(sessions, e.cfg.SampleSize, e.cfg.Seed)

	var (
		results []SessionResult
		total   time.Duration
	)
	for i, s := range sessions {
		req := assistant.Request{History: schema.ChatHistory{{Role: schema.RoleUser, Content: s.Question}}}
		start := time.Now()
		var resp *assistant.Response
		err := e.withRetry(ctx, "assistant turn", func() error {
			var err error
			resp, err = a.Run(ctx, req, true)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			logger.Errorf("evaluation: skipping session %d: %v", i, err)
			continue
		}
		d := time.Since(start)
		total += d
		results = append(results, SessionResult{Session: s, Response: resp, Latency: d})
	}

	if e.recorder != nil {
		avg := 0.0
		if len(results) > 0 {
			avg = (total / time.Duration(len(results))).Seconds()
		}
		rec := store.EvaluationRecord{
			RunID:      uuid.NewString(),
			Kind:       store.KindAssistant,
			Model:      "assistant",
			Dataset:    e.cfg.AssistantDataset,
			SampleSize: len(sessions),
			Metrics: map[string]any{
				"sampled":         len(sessions),
				"answered":        len(results),
				"failed":          len(sessions) - len(results),
				"avg_latency_sec": avg,
			},
		}
		if err := e.recorder.SaveEvaluations(ctx, []store.EvaluationRecord{rec}); err != nil {
			return results, err
		}
	}
	return results, nil
}
