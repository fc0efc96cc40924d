package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/search"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

func newIngestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Extract and commit one episode",
		Long:  "Send an episode body through the configured language model and commit the extracted entities and facts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			body, _ := cmd.Flags().GetString("body")
			file, _ := cmd.Flags().GetString("file")
			source, _ := cmd.Flags().GetString("source")
			episodeType, _ := cmd.Flags().GetString("type")
			override, _ := cmd.Flags().GetBool("override")

			if file != "" {
				if body != "" {
					return usage("--body and --file are mutually exclusive")
				}
				data, err := os.ReadFile(file)
				if err != nil {
					return kgerr.Wrap(err, kgerr.CodeValidationInvalid, "reading episode file", kgerr.Field("file", file))
				}
				body = string(data)
			}

			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				res, err := g.IngestEpisode(ctx, core.IngestInput{
					Name:              name,
					Body:              body,
					SourceDescription: source,
					EpisodeType:       episodeType,
					Override:          override,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().String("name", "", "episode name (required)")
	cmd.Flags().String("body", "", "episode text")
	cmd.Flags().String("file", "", "read the episode text from a file")
	cmd.Flags().String("source", "", "source description")
	cmd.Flags().String("type", "", "episode type (default text)")
	cmd.Flags().Bool("override", false, "commit even when the name already exists")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newBuildCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Commit an explicit graph from a JSON file",
		Long:  "Commit nodes and edges from a JSON document shaped like the /build-graph request body.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			override, _ := cmd.Flags().GetBool("override")

			data, err := os.ReadFile(file)
			if err != nil {
				return kgerr.Wrap(err, kgerr.CodeValidationInvalid, "reading graph file", kgerr.Field("file", file))
			}
			var in core.BuildGraphInput
			if err := json.Unmarshal(data, &in); err != nil {
				return kgerr.Wrap(err, kgerr.CodeValidationInvalid, "decoding graph file", kgerr.Field("file", file))
			}

			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				res, err := g.BuildGraph(ctx, in, override)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "graph JSON file (required)")
	cmd.Flags().Bool("override", false, "commit even when the episode name already exists")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSearchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank facts against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			historical, _ := cmd.Flags().GetBool("historical")
			asOfRaw, _ := cmd.Flags().GetString("as-of")

			q := search.Query{
				Text:              strings.Join(args, " "),
				Limit:             limit,
				IncludeHistorical: historical,
			}
			if asOfRaw != "" {
				asOf, err := time.Parse(time.RFC3339, asOfRaw)
				if err != nil {
					return usage("--as-of must be an RFC 3339 timestamp")
				}
				q.AsOf = &asOf
			}

			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				results, err := g.Search(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"query":   q.Text,
					"results": results,
					"count":   len(results),
				})
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().Bool("historical", false, "include superseded facts")
	cmd.Flags().String("as-of", "", "only facts valid at this RFC 3339 instant")
	return cmd
}

func newClustersCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clusters <query>",
		Short: "Group the entities linked to those a query names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")
			algorithm, _ := cmd.Flags().GetString("algorithm")
			q := core.ClusterQuery{Text: strings.Join(args, " "), Depth: depth, Algorithm: algorithm}

			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				clusters, err := g.Clusters(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"query":    q.Text,
					"clusters": clusters,
					"count":    len(clusters),
				})
			})
		},
	}
	cmd.Flags().Int("depth", 0, "hops to walk from the matched entities (default from config)")
	cmd.Flags().String("algorithm", "", "lpa or components (default from config)")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				stats, err := g.GetStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newEpisodesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episodes [uuid]",
		Short: "List recent episodes, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				if len(args) == 1 {
					detail, err := g.GetEpisode(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), detail)
				}
				episodes, err := g.ListEpisodes(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"episodes": episodes,
					"count":    len(episodes),
				})
			})
		},
	}
	cmd.Flags().IntP("limit", "n", core.DefaultListLimit, "maximum episodes to list")
	return cmd
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete an episode and what only it contributed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGraph(cmd, v, func(ctx context.Context, g *core.Graphiti) error {
				res, err := g.DeleteEpisode(ctx, args[0])
				if err != nil {
					return err
				}
				if !res.Deleted {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "episode %s not found\n", args[0])
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func usage(msg string) error {
	return kgerr.New(kgerr.CodeValidationInvalid, msg)
}
