package spamrag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spamguard/spamrag/api"
	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
)

type PredictArgs struct {
	Text  string `json:"text,omitempty" jsonschema:"description=Message text to classify"`
	Image string `json:"image,omitempty" jsonschema:"description=Optional base64 encoded image (a data: URL prefix is accepted)"`
}

type PredictModelArgs struct {
	Model string `json:"model" jsonschema_description:"Model name from the ensemble roster, e.g. xgboost or gpt-4o-mini"`
	Text  string `json:"text" jsonschema:"description=Message text to classify"`
}

type ChatArgs struct {
	Question       string            `json:"question" jsonschema:"description=The user question"`
	ConversationID string            `json:"conversation_id,omitempty" jsonschema:"description=Conversation id used to recall and store previous rounds"`
	History        []schema.ChatTurn `json:"history,omitempty" jsonschema_description:"Earlier turns of the conversation, oldest first"`
	Debug          bool              `json:"debug,omitempty" jsonschema:"description=Include the per-stage chain log in the answer"`
}

type SearchArgs struct {
	Query  string            `json:"query" jsonschema:"description=Natural language search query"`
	Index  string            `json:"index,omitempty" jsonschema:"description=Index name; defaults to the knowledge index"`
	TopK   int               `json:"top_k,omitempty" jsonschema:"description=Number of hits to return,minimum=1,maximum=50"`
	Filter map[string]string `json:"filter,omitempty" jsonschema_description:"Equality filters on filterable fields, e.g. {\"country\": \"Brasil\"}"`
}

type TrainingArgs struct {
	Text  string `json:"text" jsonschema:"description=Message text"`
	Label string `json:"label" jsonschema:"enum=spam,enum=ham,description=Ground truth label"`
}

type ListEvaluationsArgs struct {
	Kind  string `json:"kind,omitempty" jsonschema:"enum=ensemble,enum=assistant,description=Restrict to one evaluation kind"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of records,minimum=1"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result failed, err: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// toolError reports err to the client the same way the HTTP boundary does.
func toolError(op string, err error) *mcp.CallToolResult {
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		logger.Errorf("mcp %s: %v", op, err)
	}
	e := api.Error(err)
	return mcp.NewToolResultError(e.Error + ": " + e.Detail)
}

func bind(req mcp.CallToolRequest, target any) error {
	if err := req.BindArguments(target); err != nil {
		return errdefs.InvalidInput("arguments", err)
	}
	return nil
}

func HandlePredict(svc Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args PredictArgs
		if err := bind(req, &args); err != nil {
			return toolError("predict", err), nil
		}
		resp, err := svc.Ensemble.Predict(ctx, predictor.Input{Text: args.Text, Image: args.Image})
		if err != nil {
			return toolError("predict", err), nil
		}
		return jsonResult(resp)
	}
}

func HandlePredictModel(svc Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args PredictModelArgs
		if err := bind(req, &args); err != nil {
			return toolError("predict-model", err), nil
		}
		if strings.TrimSpace(args.Text) == "" {
			return toolError("predict-model", errdefs.InvalidInputf("predict-model", "text is required")), nil
		}
		res, err := svc.Ensemble.PredictOne(ctx, args.Model, predictor.Input{Text: args.Text})
		if err != nil {
			return toolError("predict-model", err), nil
		}
		return jsonResult(res)
	}
}

func HandleChat(svc Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ChatArgs
		if err := bind(req, &args); err != nil {
			return toolError("chat", err), nil
		}
		history := append(schema.ChatHistory(nil), args.History...)
		if q := strings.TrimSpace(args.Question); q != "" {
			history = append(history, schema.ChatTurn{Role: schema.RoleUser, Content: q})
		}
		resp, err := svc.Assistant.Run(ctx, assistant.Request{ConversationID: args.ConversationID, History: history}, args.Debug)
		if err != nil {
			return toolError("chat", err), nil
		}
		return jsonResult(resp)
	}
}

// filterExpr turns equality pairs into a conjunction, in key order so the
// rendered filter is stable.
func filterExpr(filter map[string]string) search.Expr {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	exprs := make([]search.Expr, 0, len(keys))
	for _, k := range keys {
		exprs = append(exprs, search.Equals(k, filter[k]))
	}
	return search.And(exprs...)
}

func HandleSearch(svc Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SearchArgs
		if err := bind(req, &args); err != nil {
			return toolError("search", err), nil
		}
		if strings.TrimSpace(args.Query) == "" {
			return toolError("search", errdefs.InvalidInputf("search", "query is required")), nil
		}
		index := args.Index
		if index == "" {
			index = svc.DefaultIndex
		}
		hits, err := svc.Search.Search(ctx, index, search.Query{
			Text:   args.Query,
			K:      args.TopK,
			Hybrid: true,
			Filter: filterExpr(args.Filter),
		})
		if err != nil {
			return toolError("search", err), nil
		}
		if hits == nil {
			hits = []schema.SearchHit{}
		}
		return jsonResult(hits)
	}
}

func HandleAddTrainingExample(svc Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args TrainingArgs
		if err := bind(req, &args); err != nil {
			return toolError("add-training-example", err), nil
		}
		label := strings.ToLower(strings.TrimSpace(args.Label))
		if strings.TrimSpace(args.Text) == "" || (label != schema.LabelSpam && label != schema.LabelHam) {
			return toolError("add-training-example", errdefs.InvalidInputf("add-training-example", "text and a spam or ham label are required")), nil
		}
		doc := search.NewTrainingDocument(args.Text, label)
		if err := svc.Uploader.Upload(ctx, svc.TrainingIndex, []schema.Document{doc}); err != nil {
			return toolError("add-training-example", err), nil
		}
		return jsonResult(map[string]any{"id": doc.ID, "index": svc.TrainingIndex})
	}
}

func HandleListEvaluations(svc Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ListEvaluationsArgs
		if err := bind(req, &args); err != nil {
			return toolError("list-evaluations", err), nil
		}
		records, err := svc.Records.ListEvaluations(ctx, args.Kind, args.Limit)
		if err != nil {
			return toolError("list-evaluations", err), nil
		}
		if len(records) == 0 {
			return mcp.NewToolResultText("No evaluation records found."), nil
		}
		return jsonResult(records)
	}
}
