package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/llm"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/logger"
)

// EnvPrefix namespaces the environment variables bound to global flags,
// e.g. KG_BACKEND or KG_SQLITE_PATH.
const EnvPrefix = "KG"

// NewRootCmd creates the kgctl command tree. Each tree carries its own viper
// instance so tests can build several side by side.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "kgctl",
		Short:         "kgctl: manufacturing knowledge graph tool",
		Long:          "kgctl ingests episodes into the manufacturing knowledge graph and queries it in-process.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(v, cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to TOML config file (default $CONFIG_PATH or config/config.toml)")
	root.PersistentFlags().String("backend", "", "graph backend: sqlite or memgraph")
	root.PersistentFlags().String("sqlite-path", "", "path to the SQLite graph file")
	root.PersistentFlags().String("llm-provider", "", "LLM provider: openai, ollama, gemini, claude or none")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newIngestCmd(v),
		newBuildCmd(v),
		newSearchCmd(v),
		newClustersCmd(v),
		newStatsCmd(v),
		newEpisodesCmd(v),
		newDeleteCmd(v),
	)
	return root
}

// initViper binds the global flags so the precedence is flag > KG_* env >
// config file > defaults.
func initViper(v *viper.Viper, cmd *cobra.Command) error {
	_ = godotenv.Load()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"config":       "config",
		"backend":      "backend",
		"sqlite_path":  "sqlite-path",
		"llm_provider": "llm-provider",
		"verbose":      "verbose",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return kgerr.Errorf(kgerr.CodeConfigLoadReadFailure, "binding %s flag: %w", flag, err)
		}
	}
	return nil
}

// loadConfig layers the bound flags and env over the TOML configuration.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if s := v.GetString("backend"); s != "" {
		cfg.Storage.Backend = s
	}
	if s := v.GetString("sqlite_path"); s != "" {
		cfg.Storage.SQLitePath = s
	}
	if s := v.GetString("llm_provider"); s != "" {
		cfg.LLM.Provider = s
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openGraph wires the same pipeline the HTTP server runs. The caller closes
// the returned service.
func openGraph(ctx context.Context, v *viper.Viper) (*core.Graphiti, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}

	log := zap.NewNop()
	if v.GetBool("verbose") {
		if err := logger.Init("development"); err != nil {
			return nil, err
		}
		log = logger.Get()
	}

	d, err := driver.Open(cfg)
	if err != nil {
		return nil, err
	}
	llmClient, embedder, err := llm.NewClient(ctx, cfg.LLM, cfg.Breaker, log.Named("llm"))
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	return core.NewGraphiti(d, llmClient, embedder, cfg, log), nil
}

// withGraph opens the graph, runs fn and closes the graph again.
func withGraph(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, g *core.Graphiti) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	g, err := openGraph(ctx, v)
	if err != nil {
		return err
	}
	defer func() { _ = g.Close(ctx) }()
	return fn(ctx, g)
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
