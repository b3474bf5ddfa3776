package predictor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/metrics"
	"github.com/spamguard/spamrag/schema"
)

// Ensemble runs every predictor of its roster concurrently over one input.
type Ensemble struct {
	roster  []string
	byName  map[string]Predictor
	policy  string
	timeout time.Duration
}

func NewEnsemble(predictors []Predictor, policy string, timeout time.Duration) (*Ensemble, error) {
	e := &Ensemble{byName: make(map[string]Predictor, len(predictors)), policy: policy, timeout: timeout}
	switch policy {
	case config.FailurePolicyPartial, config.FailurePolicyAbort:
	case "":
		e.policy = config.FailurePolicyPartial
	default:
		return nil, errdefs.Configurationf("unknown failure policy %q", policy)
	}
	for _, p := range predictors {
		if _, dup := e.byName[p.Name()]; dup {
			return nil, errdefs.Configurationf("predictor %q registered twice", p.Name())
		}
		e.byName[p.Name()] = p
		e.roster = append(e.roster, p.Name())
	}
	if len(e.roster) == 0 {
		return nil, errdefs.Configurationf("ensemble has no predictors")
	}
	return e, nil
}

// Roster returns predictor names in dispatch order.
func (e *Ensemble) Roster() []string { return append([]string(nil), e.roster...) }

// TextPredictors returns the roster entries that classify text.
func (e *Ensemble) TextPredictors() []string {
	var out []string
	for _, name := range e.roster {
		if ip, ok := e.byName[name].(imagePredictor); ok && ip.UsesImage() {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (e *Ensemble) Has(name string) bool {
	_, ok := e.byName[name]
	return ok
}

// Accepted image encodings, in the order they are tried.
var imageEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// validateImage strips an optional data URL prefix, checks the base64 payload
// and sniffs its content type. Unpadded and URL-safe payloads are accepted and
// returned re-encoded as padded standard base64.
func validateImage(raw string) (payload, mime string, err error) {
	payload = strings.TrimSpace(raw)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	data, err := decodeImage(payload)
	if err != nil {
		return "", "", errdefs.InvalidInput("predict", fmt.Errorf("invalid image encoding: %w", err))
	}
	payload = base64.StdEncoding.EncodeToString(data)
	mime = http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return payload, mime, nil
}

func decodeImage(payload string) ([]byte, error) {
	var firstErr error
	for _, enc := range imageEncodings {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Predict validates the input before dispatching anything, then joins all
// predictors. The response always carries exactly the roster keys. Under the
// partial policy a failed predictor's slot carries an error marker; under the
// abort policy the first failure cancels the siblings and the request fails
// with every branch error.
func (e *Ensemble) Predict(ctx context.Context, in Input) (schema.EnsembleResponse, error) {
	if in.Image != "" {
		payload, mime, err := validateImage(in.Image)
		if err != nil {
			return nil, err
		}
		in.Image, in.ImageMIME = payload, mime
	}
	if strings.TrimSpace(in.Text) == "" && in.Image == "" {
		return nil, errdefs.InvalidInputf("predict", "text or image is required")
	}

	results := make([]schema.PredictionResult, len(e.roster))
	errs := make([]error, len(e.roster))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range e.roster {
		i, p := i, e.byName[name]
		g.Go(func() error {
			res, err := e.run(gctx, p, in)
			results[i], errs[i] = res, err
			if err != nil && e.policy == config.FailurePolicyAbort {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	resp := make(schema.EnsembleResponse, len(e.roster))
	for i, name := range e.roster {
		if errs[i] == nil {
			resp[name] = results[i]
			continue
		}
		if e.policy == config.FailurePolicyAbort {
			if !errors.Is(errs[i], context.Canceled) || ctx.Err() != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, errs[i]))
			}
			continue
		}
		resp[name] = schema.PredictionResult{Error: errdefs.Marker(errs[i])}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return resp, nil
}

// PredictOne runs a single named predictor.
func (e *Ensemble) PredictOne(ctx context.Context, name string, in Input) (schema.PredictionResult, error) {
	p, ok := e.byName[name]
	if !ok {
		return schema.PredictionResult{}, errdefs.InvalidInputf("predict", "model %q is not configured", name)
	}
	if in.Image != "" {
		payload, mime, err := validateImage(in.Image)
		if err != nil {
			return schema.PredictionResult{}, err
		}
		in.Image, in.ImageMIME = payload, mime
	}
	return e.run(ctx, p, in)
}

func (e *Ensemble) run(ctx context.Context, p Predictor, in Input) (schema.PredictionResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	if strings.TrimSpace(in.Text) == "" {
		if ip, ok := p.(imagePredictor); !ok || !ip.UsesImage() {
			// image-only request: text predictors have nothing to classify
			metrics.ObservePrediction(p.Name(), "empty", time.Since(start))
			return schema.EmptyPrediction(), nil
		}
	}
	res, err := p.Predict(ctx, in)
	switch {
	case err != nil:
		logger.With("predictor", p.Name()).Errorf("prediction failed: %v", err)
		metrics.ObservePrediction(p.Name(), "error", time.Since(start))
		return schema.PredictionResult{}, err
	case res.Empty:
		metrics.ObservePrediction(p.Name(), "empty", time.Since(start))
	default:
		metrics.ObservePrediction(p.Name(), res.Result, time.Since(start))
	}
	return res, nil
}
