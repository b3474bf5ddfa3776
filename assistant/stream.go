package assistant

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/metrics"
	"github.com/spamguard/spamrag/schema"
)

// Event types emitted by Stream.
const (
	EventDelta = "delta"
	EventEnd   = "end"
	EventError = "error"
)

// Event is one streaming update. Every event carries the message id, the
// follow-up questions and a snapshot of the chain log so the transport does
// not need a second round-trip.
type Event struct {
	Type              string                    `json:"type"`
	MessageID         string                    `json:"message_id"`
	Delta             string                    `json:"delta,omitempty"`
	Response          string                    `json:"response,omitempty"`
	References        []schema.Reference        `json:"references,omitempty"`
	FollowupQuestions []schema.FollowupQuestion `json:"followup_questions"`
	ChainLogs         *metrics.ChainLog         `json:"chain_logs,omitempty"`
	Error             string                    `json:"error,omitempty"`
}

type followupResult struct {
	list []schema.FollowupQuestion
	err  error
	secs float64
}

// Stream answers one turn incrementally. Errors up to the start of generation
// are returned directly; later failures arrive as a terminal error event. The
// channel is closed after an end or error event, or when ctx is done.
func (a *Assistant) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	history, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	p, err := a.retrieveContext(ctx, history, uuid.NewString())
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	fch := make(chan followupResult, 1)
	go func() {
		sw := metrics.StartStage(StageFollowup)
		list, err := a.followups(sctx, p.condensed, p.reduced.Context)
		fch <- followupResult{list: list, err: err, secs: sw.Stop()}
	}()

	synth := metrics.StartStage(StageSynthesis)
	chunks, err := a.llm.Stream(sctx, a.synthesisRequest(p.condensed, p.reduced.Context))
	if err != nil {
		cancel()
		return nil, stageErr(StageSynthesis, errdefs.Upstream("synthesis", err))
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer cancel()
		log := logger.With("message_id", p.messageID)

		var (
			followups []schema.FollowupQuestion
			got       bool
		)
		awaitFollowups := func() error {
			if got {
				return nil
			}
			r := <-fch
			got = true
			p.chain.TimeFollowup = r.secs
			if r.err != nil {
				return stageErr(StageFollowup, r.err)
			}
			followups = nonNilFollowups(r.list)
			return nil
		}
		emit := func(ev Event) bool {
			ev.MessageID = p.messageID
			if ev.FollowupQuestions == nil {
				ev.FollowupQuestions = nonNilFollowups(followups)
			}
			snapshot := *p.chain
			ev.ChainLogs = &snapshot
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			log.Errorf("stream failed: %v", err)
			emit(Event{Type: EventError, Error: errdefs.Marker(err)})
		}

		var (
			answer  strings.Builder
			sawDone bool
		)
	loop:
		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				fail(stageErr(StageSynthesis, chunk.Err))
				return
			case chunk.Done:
				sawDone = true
				break loop
			case chunk.Content == "":
				continue
			}
			if err := awaitFollowups(); err != nil {
				fail(err)
				return
			}
			answer.WriteString(chunk.Content)
			if !emit(Event{Type: EventDelta, Delta: chunk.Content}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if !sawDone {
			fail(stageErr(StageSynthesis, errdefs.Upstream("synthesis", io.ErrUnexpectedEOF)))
			return
		}
		if err := awaitFollowups(); err != nil {
			fail(err)
			return
		}

		p.chain.TimeSynthesis = synth.Stop()
		p.chain.NodeSynthesis = &metrics.SynthesisNode{Response: answer.String()}
		p.chain.TimeTotal = time.Since(p.start).Seconds()
		p.chain.LogJSON()
		a.remember(ctx, req, p.messageID, answer.String(), p.reduced.IDs)
		emit(Event{Type: EventEnd, Response: answer.String(), References: nonNilRefs(p.reduced.References)})
	}()
	return out, nil
}
