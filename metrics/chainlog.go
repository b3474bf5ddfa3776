package metrics

import (
	"encoding/json"
	"time"

	"github.com/spamguard/spamrag/common/logger"
)

// ChainLog is the per-turn diagnostic record attached to assistant responses.
// Times are in seconds.
type ChainLog struct {
	MessageID      string         `json:"message_id,omitempty"`
	TimeCondensor  float64        `json:"time_condensor"`
	TimeMultiquery float64        `json:"time_multiquery"`
	TimeSearch     float64        `json:"time_search"`
	TimeReduce     float64        `json:"time_reduce"`
	TimeSynthesis  float64        `json:"time_synthesis,omitempty"`
	TimeFollowup   float64        `json:"time_followup"`
	TimeTotal      float64        `json:"time_total"`
	Retrieval      RetrievalNode  `json:"retrieval"`
	NodeCondensor  CondensorNode  `json:"node_condensor"`
	NodeMultiquery MultiqueryNode `json:"node_multyquery"`
	NodeSynthesis  *SynthesisNode `json:"node_synthesis,omitempty"`
}

type RetrievalNode struct {
	IDContent  []string `json:"id_content"`
	Retrieved  int      `json:"retrieved"`
	Duplicates int      `json:"duplicates"`
}

type CondensorNode struct {
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// MultiqueryNode keeps the expanded queries as plain maps so the record stays
// independent of the pipeline types.
type MultiqueryNode struct {
	Queries []map[string]string `json:"queries"`
}

type SynthesisNode struct {
	Response string `json:"response"`
}

// Stopwatch measures one stage and feeds the stage histogram.
type Stopwatch struct {
	stage string
	start time.Time
}

func StartStage(stage string) Stopwatch { return Stopwatch{stage: stage, start: time.Now()} }

// Stop returns elapsed seconds.
func (s Stopwatch) Stop() float64 {
	d := time.Since(s.start)
	ObserveStage(s.stage, d)
	return d.Seconds()
}

// LogJSON writes the record as one JSON line.
func (c *ChainLog) LogJSON() {
	if data, err := json.Marshal(c); err == nil {
		logger.Infof("[CHAIN_LOG] %s", string(data))
	}
}
