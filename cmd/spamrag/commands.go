package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/spamguard/spamrag"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	// logs go to stderr when stdout carries the MCP stdio stream
	stderr bool
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", os.Getenv("SPAMRAG_CONFIG"), "path to a YAML or JSON config file")
	fs.StringVar(&o.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, "log-format", "", "override log.format (json or console)")
}

// load reads the config and initialises logging from it.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.stderr {
		logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, zapcore.Lock(os.Stderr))
	} else {
		logger.Init(cfg.Log.Level, cfg.Log.Format)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "spamrag",
		Short:         "Spam detection ensemble and retrieval-augmented assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(root.PersistentFlags())
	root.AddCommand(newServeCmd(opts), newMCPCmd(opts), newEvaluateCmd(opts))
	return root
}

func withClient(ctx context.Context, opts *globalOptions, fn func(*config.Config, *spamrag.Client) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	client, err := spamrag.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warnf("close client: %v", err)
		}
	}()
	return fn(cfg, client)
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr    string
		mcpAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, and the MCP tools over HTTP when --mcp-addr is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), opts, func(cfg *config.Config, client *spamrag.Client) error {
				if addr != "" {
					cfg.Server.HTTPAddr = addr
				}
				if mcpAddr != "" {
					cfg.Server.MCPAddr = mcpAddr
				}
				g, ctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error { return client.HTTPServer().Run(ctx) })
				if cfg.Server.MCPAddr != "" {
					s := spamrag.NewMCPServer("spamrag", client.Services())
					g.Go(func() error { return spamrag.ServeMCP(ctx, s, cfg.Server.MCPAddr) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override server.http_addr")
	cmd.Flags().StringVar(&mcpAddr, "mcp-addr", "", "override server.mcp_addr")
	return cmd
}

func newMCPCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio, or over streamable HTTP with --addr",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.stderr = addr == ""
			return withClient(cmd.Context(), opts, func(cfg *config.Config, client *spamrag.Client) error {
				s := spamrag.NewMCPServer("spamrag", client.Services())
				return spamrag.ServeMCP(cmd.Context(), s, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for streamable HTTP; stdio when empty")
	return cmd
}

type evaluateOptions struct {
	dataset string
	sample  int
	seed    int64
	models  []string
}

func newEvaluateCmd(opts *globalOptions) *cobra.Command {
	eo := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:       "evaluate [ensemble|assistant]",
		Short:     "Evaluate the ensemble or the assistant on a sampled dataset and store the report",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"ensemble", "assistant"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), opts, func(cfg *config.Config, client *spamrag.Client) error {
				eo.apply(cmd.Flags(), args[0], cfg)
				return runEvaluate(cmd, args[0], eo, client)
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&eo.dataset, "dataset", "", "override the dataset path")
	fs.IntVar(&eo.sample, "sample", 0, "override evaluation.sample_size")
	fs.Int64Var(&eo.seed, "seed", 0, "override evaluation.seed")
	fs.StringSliceVar(&eo.models, "models", nil, "models to evaluate; defaults to every text model of the roster")
	return cmd
}

// apply copies explicitly set flags over the loaded config.
func (eo *evaluateOptions) apply(fs *pflag.FlagSet, target string, cfg *config.Config) {
	if fs.Changed("dataset") {
		if target == "assistant" {
			cfg.Evaluation.AssistantDataset = eo.dataset
		} else {
			cfg.Evaluation.Dataset = eo.dataset
		}
	}
	if fs.Changed("sample") {
		cfg.Evaluation.SampleSize = eo.sample
	}
	if fs.Changed("seed") {
		cfg.Evaluation.Seed = eo.seed
	}
}

func runEvaluate(cmd *cobra.Command, target string, eo *evaluateOptions, client *spamrag.Client) error {
	ctx := cmd.Context()
	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	switch target {
	case "ensemble":
		models := eo.models
		if len(models) == 0 {
			models = client.Ensemble().TextPredictors()
		}
		for _, m := range models {
			if !client.Ensemble().Has(m) {
				return fmt.Errorf("model %q is not in the roster (%s)", m, strings.Join(client.Ensemble().Roster(), ", "))
			}
		}
		records, err := client.Evaluator().EvaluateEnsemble(ctx, client.Ensemble(), models)
		if err != nil {
			return err
		}
		return out.Encode(records)
	default:
		results, err := client.Evaluator().EvaluateAssistant(ctx, client.Assistant())
		if err != nil {
			return err
		}
		summary := make([]map[string]any, 0, len(results))
		for _, r := range results {
			summary = append(summary, map[string]any{
				"question":    r.Session.Question,
				"response":    r.Response.Response,
				"latency_sec": r.Latency.Seconds(),
			})
		}
		return out.Encode(summary)
	}
}
