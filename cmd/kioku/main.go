package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	knowledgespec "github.com/bdobrica/Kioku/common/spec/knowledge"
	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/character"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "kioku",
		Short:         "kioku - conversational memory and knowledge retrieval for character chat",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KIOKU_CONFIG"), "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath), newKnowledgeCmd(out))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := observability.Setup(cfg.LogLevel, cfg.LogFormat)
			logger.Info("starting kioku",
				"version", version.Version,
				"commit", version.GitCommit,
				"storage", cfg.Storage.Backend,
			)

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize kioku: %w", err)
			}
			defer a.Stop()
			return a.Run(context.Background())
		},
	}
}

func newKnowledgeCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect knowledge packs",
	}

	validate := &cobra.Command{
		Use:   "validate <pack.yaml>...",
		Short: "Validate knowledge pack files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				p, err := loadPack(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "ok   %s (character %s, %d items)\n", path, p.Character.ID, len(p.Knowledge))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d packs invalid", failed, len(args))
			}
			return nil
		},
	}

	var (
		charactersDir string
		characterID   string
		limit         int
	)
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a character's knowledge the way a turn would",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reg := character.NewRegistry()
			if err := reg.LoadFS(os.DirFS(charactersDir)); err != nil {
				return err
			}
			if _, err := reg.Get(characterID); err != nil {
				return err
			}
			ix := knowledge.NewIndex(nil)
			if err := ix.LoadPacks(reg.Packs()); err != nil {
				return err
			}

			results := ix.Search(args[0], characterID, limit)
			if len(results) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, item := range results {
				fmt.Fprintf(out, "%3d  %-12s %s\n", knowledge.Score(args[0], item), item.ID, item.Title)
			}
			return nil
		},
	}
	search.Flags().StringVarP(&charactersDir, "characters-dir", "d", "./characters", "directory of character packs")
	search.Flags().StringVar(&characterID, "character", "", "character ID to search")
	search.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	_ = search.MarkFlagRequired("character")

	cmd.AddCommand(validate, search)
	return cmd
}

func loadPack(path string) (*knowledgespec.Pack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return knowledgespec.Parse(raw)
}
