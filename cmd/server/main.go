package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mikeboe/research-agent/pkg/clients"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/embeddings"
	"github.com/mikeboe/research-agent/pkg/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitSchema(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
		slog.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	llm, err := clients.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create LLM client", "error", err)
		os.Exit(1)
	}
	fast, err := clients.NewFast(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create fast LLM client", "error", err)
		os.Exit(1)
	}
	searcher, err := clients.NewSearcher(cfg)
	if err != nil {
		slog.Error("Failed to create search client", "error", err)
		os.Exit(1)
	}

	// Without a Google key there is no embedder; jobs still run, unindexed.
	idx, err := clients.NewFindingsIndex(ctx, cfg, db.Pool)
	if err != nil {
		slog.Warn("Findings index disabled", "error", err)
	}

	svc := server.NewService(db.Pool, cfg.Research(), llm, searcher, idx)
	svc.FastLLM = fast
	var tools server.FindingsTools
	if idx != nil {
		tools = idx
	}
	handler := server.NewHandler(svc, tools)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: false,
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.SynthesisTimeout+30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	// Running jobs are cancelled and still store the report synthesized from their findings.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Research jobs did not finish in time", "error", err)
	}
}
