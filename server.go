package spamrag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spamguard/spamrag/api"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
)

const Version = "1.0.0"

// Searcher is the part of the search client exposed to tools.
type Searcher interface {
	Search(ctx context.Context, index string, q search.Query) ([]schema.SearchHit, error)
	Indexes() []string
}

// Services are the collaborators behind the tools. Nil members leave their
// tools unregistered.
type Services struct {
	Ensemble      api.Ensemble
	Assistant     api.Assistant
	Search        Searcher
	Records       api.Records
	Uploader      api.Uploader
	TrainingIndex string
	DefaultIndex  string
}

// NewMCPServer registers the spam and assistant tools.
func NewMCPServer(serverName string, svc Services) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		serverName,
		Version,
		server.WithInstructions("Spam detection for SMS and chat messages, plus a retrieval-augmented assistant over the knowledge index"),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	// Classification Tools
	if svc.Ensemble != nil {
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema("predict", "Classify a message and/or base64 image as spam or ham with every model of the ensemble", toolSchema[PredictArgs]()),
			HandlePredict(svc),
		)
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema("predict-model", "Classify a message as spam or ham with a single named model", toolSchema[PredictModelArgs]()),
			HandlePredictModel(svc),
		)
	}

	// Assistant Tools
	if svc.Assistant != nil {
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema("chat", "Answer a question with references and follow-up suggestions retrieved from the knowledge index", toolSchema[ChatArgs]()),
			HandleChat(svc),
		)
	}
	if svc.Search != nil {
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema("search", "Hybrid search over one of the configured indexes: "+strings.Join(svc.Search.Indexes(), ", "), toolSchema[SearchArgs]()),
			HandleSearch(svc),
		)
	}

	// Training and Evaluation Tools
	if svc.Uploader != nil {
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema("add-training-example", "Add a labelled message to the examples used by the generative classifiers", toolSchema[TrainingArgs]()),
			HandleAddTrainingExample(svc),
		)
	}
	if svc.Records != nil {
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema("list-evaluations", "List stored evaluation reports, newest first", toolSchema[ListEvaluationsArgs]()),
			HandleListEvaluations(svc),
		)
	}
	return mcpServer
}

// toolSchema derives a tool input schema from an argument struct. Fields
// without omitempty are required.
func toolSchema[T any]() json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(new(T))
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		// argument structs always marshal
		panic(err)
	}
	return raw
}

// ServeMCP serves over stdio when addr is empty, otherwise over streamable
// HTTP on addr. It returns when ctx is cancelled.
func ServeMCP(ctx context.Context, s *server.MCPServer, addr string) error {
	if addr == "" {
		logger.Infof("mcp: serving on stdio")
		err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	httpSrv := server.NewStreamableHTTPServer(s)
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("mcp: listening on %s", addr)
		if err := httpSrv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
