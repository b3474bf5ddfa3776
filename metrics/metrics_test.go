package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePredictionCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(predictions.WithLabelValues("xgboost", "spam"))
	ObservePrediction("xgboost", "spam", 3*time.Millisecond)
	after := testutil.ToFloat64(predictions.WithLabelValues("xgboost", "spam"))
	assert.Equal(t, before+1, after)
}

func TestChainLogJSONShape(t *testing.T) {
	cl := ChainLog{
		TimeCondensor: 0.5,
		Retrieval:     RetrievalNode{IDContent: []string{"a", "b"}},
		NodeCondensor: CondensorNode{Query: "q"},
		NodeMultiquery: MultiqueryNode{Queries: []map[string]string{
			{"query": "q", "domain": "Null"},
		}},
	}
	b, err := json.Marshal(cl)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "time_condensor")
	assert.Contains(t, m, "node_multyquery")
	assert.NotContains(t, m, "node_synthesis")
	assert.Equal(t, []any{"a", "b"}, m["retrieval"].(map[string]any)["id_content"])
}

func TestStopwatch(t *testing.T) {
	sw := StartStage("condense")
	assert.GreaterOrEqual(t, sw.Stop(), 0.0)
}
