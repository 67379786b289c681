package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pcavallo/atomforge"
)

var (
	configPath string
	verbose    bool
	inputDir   string
	outputDir  string
	limit      int
	documents  bool
	skip       bool
)

func main() {
	root := &cobra.Command{
		Use:           "atomforge",
		Short:         "Turn AI chat exports into a consolidated knowledge base",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			// Structured JSON logging.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&inputDir, "input", "", "Input directory (overrides config)")
	root.PersistentFlags().StringVar(&outputDir, "output", "", "Output directory (overrides config)")
	root.PersistentFlags().IntVar(&limit, "limit", 0, "Process at most N conversations")
	root.PersistentFlags().BoolVar(&documents, "documents", false, "Treat inputs as standalone documents")
	root.PersistentFlags().BoolVar(&skip, "skip-existing", false, "Skip conversations with existing atoms")

	root.AddCommand(
		linearizeCmd(),
		extractCmd(),
		consolidateCmd(),
		discoverTopicsCmd(),
		assignTopicsCmd(),
		compileCmd(),
		runAllCmd(),
		indexCmd(),
		searchCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadPipeline builds a Pipeline from the config file, environment, and
// flags, in that order of precedence.
func loadPipeline() (*atomforge.Pipeline, error) {
	cfg := atomforge.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = atomforge.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if inputDir != "" {
		cfg.InputDir = inputDir
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if limit > 0 {
		cfg.Limit = limit
	}
	if documents {
		cfg.Documents = true
	}
	if skip {
		cfg.SkipExisting = true
	}

	return atomforge.New(cfg)
}

// signalContext cancels on SIGINT/SIGTERM so in-flight LLM calls stop
// cleanly.
func signalContext(cmd *cobra.Command) *cobra.Command {
	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		c.SetContext(ctx)
		return run(c, args)
	}
	return cmd
}

func linearizeCmd() *cobra.Command {
	return signalContext(&cobra.Command{
		Use:   "linearize",
		Short: "Normalize chat exports and write per-conversation evidence markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			_, err = p.Linearize(cmd.Context())
			return err
		},
	})
}

func extractCmd() *cobra.Command {
	return signalContext(&cobra.Command{
		Use:   "extract",
		Short: "Mine knowledge atoms from linearized conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			return p.Extract(cmd.Context())
		},
	})
}

func consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Merge per-conversation atoms into the project-wide set",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			res, err := p.Consolidate()
			if err != nil {
				return err
			}
			slog.Info("consolidate: complete",
				"input_atoms", res.InputAtoms,
				"output_atoms", res.OutputAtoms,
				"conversations", len(res.Sources),
			)
			return nil
		},
	}
}

func discoverTopicsCmd() *cobra.Command {
	return signalContext(&cobra.Command{
		Use:   "discover-topics",
		Short: "Cluster conversations into topics and write the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			_, err = p.DiscoverTopics(cmd.Context())
			return err
		},
	})
}

func assignTopicsCmd() *cobra.Command {
	return signalContext(&cobra.Command{
		Use:   "assign-topics",
		Short: "Assign conversations to discovered topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			assignments, err := p.AssignTopics(cmd.Context())
			if err != nil {
				return err
			}
			flagged := 0
			for _, a := range assignments {
				if a.ReviewFlag {
					flagged++
				}
			}
			slog.Info("assign-topics: complete",
				"conversations", len(assignments), "flagged", flagged)
			return nil
		},
	})
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Render the consolidated atoms into a markdown knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			return p.Compile()
		},
	}
}

func runAllCmd() *cobra.Command {
	return signalContext(&cobra.Command{
		Use:   "run-all",
		Short: "Run the full pipeline: linearize through compile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			return p.RunAll(cmd.Context())
		},
	})
}

func indexCmd() *cobra.Command {
	return signalContext(&cobra.Command{
		Use:   "index",
		Short: "Index atoms and conversation embeddings into SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			return p.Index(cmd.Context())
		},
	})
}

func searchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the atom index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline()
			if err != nil {
				return err
			}
			results, err := p.Search(cmd.Context(), args[0], topK)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return fmt.Errorf("encoding results: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top", "k", 5, "Number of results")
	return signalContext(cmd)
}
