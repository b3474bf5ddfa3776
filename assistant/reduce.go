package assistant

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/schema"
)

// Dedup keeps the highest scoring hit per identity, in first-seen order of
// identities. Applying it to its own output changes nothing.
func Dedup(hits []schema.SearchHit, keyFields []string) []schema.SearchHit {
	index := make(map[string]int, len(hits))
	out := make([]schema.SearchHit, 0, len(hits))
	for _, h := range hits {
		key := h.Key(keyFields)
		if i, ok := index[key]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		index[key] = len(out)
		out = append(out, h)
	}
	return out
}

// CapPerGroup keeps at most n hits per group, best score first. The result is
// ordered by descending score.
func CapPerGroup(hits []schema.SearchHit, groupBy []string, n int) []schema.SearchHit {
	out := append([]schema.SearchHit(nil), hits...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(groupBy) == 0 || n <= 0 {
		return out
	}
	counts := map[string]int{}
	kept := out[:0]
	for _, h := range out {
		key := h.Key(groupBy)
		if counts[key] >= n {
			continue
		}
		counts[key]++
		kept = append(kept, h)
	}
	return kept
}

// reduction is what the synthesis and follow-up stages consume.
type reduction struct {
	Hits       []schema.SearchHit
	Context    string
	References []schema.Reference
	IDs        []string
	Duplicates int
}

type reducer struct {
	index     config.IndexConfig
	groupBy   []string
	groupCap  int
	budget    int
	tokenizer string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func newReducer(ic config.IndexConfig, cfg config.RAGConfig) *reducer {
	return &reducer{
		index:     ic,
		groupBy:   cfg.GroupBy,
		groupCap:  cfg.GroupCap,
		budget:    cfg.ContextTokenBudget,
		tokenizer: cfg.TokenizerModel,
	}
}

func (r *reducer) countTokens(text string) int {
	r.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(r.tokenizer)
		if err != nil {
			logger.Warnf("assistant: tokenizer %q unavailable, estimating: %v", r.tokenizer, err)
			return
		}
		r.enc = enc
	})
	if r.enc == nil {
		return len(text)/4 + 1
	}
	return len(r.enc.Encode(text, nil, nil))
}

func (r *reducer) reduce(hits []schema.SearchHit) reduction {
	unique := Dedup(hits, r.index.KeyFields)
	kept := CapPerGroup(unique, r.groupBy, r.groupCap)

	res := reduction{Duplicates: len(hits) - len(unique)}
	blocks := make([]string, 0, len(kept))
	used := 0
	seenLinks := map[string]bool{}
	for _, h := range kept {
		block := r.formatHit(h)
		if r.budget > 0 {
			n := r.countTokens(block)
			if used+n > r.budget && len(blocks) > 0 {
				logger.Debugf("assistant: context budget %d reached after %d documents", r.budget, len(blocks))
				break
			}
			used += n
		}
		blocks = append(blocks, block)
		res.Hits = append(res.Hits, h)
		res.IDs = append(res.IDs, r.hitID(h))
		if link := h.String("link"); link != "" && !seenLinks[link] {
			seenLinks[link] = true
			res.References = append(res.References, schema.Reference{
				Link:       link,
				NameToShow: h.String("country") + "_" + h.String("year"),
			})
		}
	}
	res.Context = strings.Join(blocks, "\n\n")
	return res
}

func (r *reducer) hitID(h schema.SearchHit) string {
	if r.index.IDField != "" {
		if id := h.String(r.index.IDField); id != "" {
			return id
		}
	}
	return h.ID
}

// formatHit renders the selected fields of a hit, skipping identifiers.
func (r *reducer) formatHit(h schema.SearchHit) string {
	fields := r.index.Select
	if len(fields) == 0 {
		fields = r.index.TextFields
	}
	var b strings.Builder
	for _, f := range fields {
		if f == r.index.IDField || f == r.index.VectorField {
			continue
		}
		v := h.String(f)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}
