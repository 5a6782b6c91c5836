package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/research-agent/pkg/clients"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/embeddings"
	"github.com/mikeboe/research-agent/pkg/research"
)

var (
	topic     string
	outputDir string
	index     bool
	verbose   bool
)

func main() {
	// Load .env file; plain environment variables work as well
	_ = godotenv.Load()

	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "research-agent",
		Short: "A terminal-based research agent",
		Long: `research-agent researches a topic by iterating through a
Plan-Search-Summarize-Reflect loop and writes a cited Markdown report.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if !cmd.Flags().Changed("topic") {
				fmt.Print("Enter research topic: ")
				input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				topic = input
			}
			topic = strings.TrimSpace(topic)
			if topic == "" {
				return errors.New("topic cannot be empty")
			}

			// Ctrl-C stops the loop; the report is still synthesized from what was found.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, topic)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&topic, "topic", "t", "", "The research topic")
	flags.StringVarP(&outputDir, "output", "o", ".", "Directory the report and sources are written to")
	flags.BoolVar(&index, "index", false, "Index the findings into the pgvector collection")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.Int("max-iterations", 0, "Maximum research rounds")
	flags.Int("max-queries", 0, "Maximum search queries per round")
	flags.Int("threshold", 0, "Confidence score (0-10) that ends the research")
	flags.String("llm-provider", "", "LLM provider (deepseek, google)")
	flags.String("search-provider", "", "Search provider (tavily, arxiv)")
	flags.String("collection", "", "The findings collection to index into")

	for key, flag := range map[string]string{
		"max_iterations":       "max-iterations",
		"max_queries":          "max-queries",
		"confidence_threshold": "threshold",
		"llm_provider":         "llm-provider",
		"search_provider":      "search-provider",
		"collection_name":      "collection",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			slog.Error("Failed to bind flag", "flag", flag, "error", err)
			os.Exit(1)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, topic string) error {
	llm, err := clients.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	fast, err := clients.NewFast(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create fast LLM client: %w", err)
	}
	searcher, err := clients.NewSearcher(cfg)
	if err != nil {
		return err
	}

	engine := research.NewEngine(cfg.Research(), llm, searcher)
	engine.FastLLM = fast
	var last research.State
	engine.OnStateUpdate = func(state research.State) {
		last = state
		slog.Debug("State updated", "phase", state.Phase, "iteration", state.Iteration, "summaries", len(state.Summaries))
	}

	slog.Info("Starting research", "topic", topic, "llm", cfg.LLMProvider, "search", cfg.SearchProvider)
	res, err := engine.Run(ctx, topic)
	if err != nil {
		var reqErr *research.RequestError
		if errors.As(err, &reqErr) && reqErr.Partial.Report != "" {
			_ = writeOutputs(reqErr.Partial)
		}
		return err
	}

	if err := writeOutputs(res); err != nil {
		return err
	}
	fmt.Println(res.Report)

	if index {
		// Indexing runs even after Ctrl-C so the stored findings match the report.
		if err := indexFindings(context.WithoutCancel(ctx), cfg, topic, last.Summaries); err != nil {
			return fmt.Errorf("failed to index findings: %w", err)
		}
	}
	return nil
}

func writeOutputs(res research.Result) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	reportPath := filepath.Join(outputDir, fmt.Sprintf("report_%s.md", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(reportPath, []byte(res.Report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	sources, err := json.MarshalIndent(res.Sources, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	sourcesPath := filepath.Join(outputDir, "sources.json")
	if err := os.WriteFile(sourcesPath, sources, 0o644); err != nil {
		return fmt.Errorf("failed to write sources: %w", err)
	}

	slog.Info("Report written",
		"report", reportPath,
		"sources", sourcesPath,
		"confidence", res.ConfidenceScore,
		"iterations", res.Iterations)
	return nil
}

func indexFindings(ctx context.Context, cfg *config.Config, topic string, summaries []research.SummaryRecord) error {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
		return err
	}

	// Findings reference a job row, so CLI runs are recorded as completed jobs.
	jobID := uuid.New()
	if _, err := db.Pool.Exec(ctx,
		"INSERT INTO research_jobs (id, topic, status) VALUES ($1, $2, 'completed')", jobID, topic); err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}

	idx, err := clients.NewFindingsIndex(ctx, cfg, db.Pool)
	if err != nil {
		return err
	}
	n, err := idx.IndexSummaries(ctx, jobID.String(), summaries)
	if err != nil {
		return err
	}
	slog.Info("Findings indexed", "job_id", jobID, "findings", n, "collection", cfg.CollectionName)
	return nil
}
