package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/spamguard/spamrag/common/httpx"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/schema"
)

const defaultAzureAPIVersion = "2023-11-01"

// AzureBackend talks to Azure AI Search over its REST API.
type AzureBackend struct {
	endpoint   string
	apiKey     string
	apiVersion string
	hc         *httpx.Client
}

func NewAzureBackend(cfg config.SearchConfig, hc *httpx.Client) *AzureBackend {
	v := cfg.APIVersion
	if v == "" {
		v = defaultAzureAPIVersion
	}
	return &AzureBackend{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: v,
		hc:         hc,
	}
}

func (b *AzureBackend) Name() string { return "azure" }

type azureVectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
	Fields string    `json:"fields"`
}

type azureSearchBody struct {
	Search        string             `json:"search,omitempty"`
	VectorQueries []azureVectorQuery `json:"vectorQueries,omitempty"`
	Top           int                `json:"top"`
	Select        string             `json:"select,omitempty"`
	Filter        string             `json:"filter,omitempty"`
}

func (b *AzureBackend) url(index, op string) string {
	return fmt.Sprintf("%s/indexes/%s/docs/%s?api-version=%s", b.endpoint, url.PathEscape(index), op, url.QueryEscape(b.apiVersion))
}

func (b *AzureBackend) post(ctx context.Context, target string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = string(data)
		}
		return nil, &httpx.StatusError{StatusCode: resp.StatusCode, Body: msg}
	}
	return data, nil
}

func (b *AzureBackend) Search(ctx context.Context, index config.IndexConfig, req Request) ([]schema.SearchHit, error) {
	body := azureSearchBody{
		Search: req.Text,
		Top:    req.K,
		Select: strings.Join(req.Select, ","),
		Filter: RenderOData(req.Filter),
	}
	if req.Vector != nil {
		body.VectorQueries = []azureVectorQuery{{Kind: "vector", Vector: req.Vector, K: req.K, Fields: index.VectorField}}
	}
	data, err := b.post(ctx, b.url(index.Name, "search"), body)
	if err != nil {
		return nil, err
	}
	return parseAzureHits(data, index.IDField), nil
}

func parseAzureHits(data []byte, idField string) []schema.SearchHit {
	var hits []schema.SearchHit
	gjson.GetBytes(data, "value").ForEach(func(_, doc gjson.Result) bool {
		hit := schema.SearchHit{Fields: map[string]any{}}
		for k, v := range doc.Map() {
			switch {
			case k == "@search.score":
				hit.Score = v.Float()
			case strings.HasPrefix(k, "@search."):
			default:
				hit.Fields[k] = v.Value()
			}
		}
		if idField != "" {
			hit.ID = hit.String(idField)
		}
		hits = append(hits, hit)
		return true
	})
	return hits
}

func (b *AzureBackend) Upload(ctx context.Context, index config.IndexConfig, docs []schema.Document) error {
	values := make([]map[string]any, len(docs))
	for i, d := range docs {
		v := make(map[string]any, len(d.Fields)+2)
		for k, f := range d.Fields {
			v[k] = f
		}
		v["@search.action"] = "upload"
		if index.IDField != "" && d.ID != "" {
			v[index.IDField] = d.ID
		}
		if d.Vector != nil {
			v[index.VectorField] = d.Vector
		}
		values[i] = v
	}
	data, err := b.post(ctx, b.url(index.Name, "index"), map[string]any{"value": values})
	if err != nil {
		return err
	}
	failed := gjson.GetBytes(data, `value.#(status==false)#.key`).Array()
	if len(failed) > 0 {
		keys := make([]string, len(failed))
		for i, k := range failed {
			keys[i] = k.String()
		}
		return fmt.Errorf("azure search rejected %d documents: %s", len(failed), strings.Join(keys, ","))
	}
	return nil
}
