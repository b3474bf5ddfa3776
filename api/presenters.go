package api

import (
	"errors"

	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/store"
)

type PredictRequest struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

type TextInput struct {
	Text string `json:"text" binding:"required"`
}

type NewKnowledge struct {
	Text  string `json:"text" binding:"required"`
	Label string `json:"label" binding:"required"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type MetricsResponse []store.EvaluationRecord

const internalDetail = "Internal error while processing the request"

// Error renders err for the client. Only invalid input carries its cause;
// everything else gets a generic detail.
func Error(err error) ErrorResponse {
	out := ErrorResponse{Error: errdefs.Marker(err), Detail: internalDetail}
	var e *errdefs.Error
	if errors.As(err, &e) && e.Kind == errdefs.KindInvalidInput && e.Err != nil {
		out.Detail = e.Err.Error()
	}
	return out
}
