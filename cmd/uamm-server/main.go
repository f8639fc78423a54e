package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uamm-go/uamm/internal/approvals"
	"github.com/uamm-go/uamm/internal/config"
	"github.com/uamm-go/uamm/internal/embedding"
	"github.com/uamm-go/uamm/internal/httpapi"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/orchestrator"
	"github.com/uamm-go/uamm/internal/security"
	"github.com/uamm-go/uamm/internal/store"
	"github.com/uamm-go/uamm/internal/tools"
	"github.com/uamm-go/uamm/internal/uq"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "uamm-server",
	Short: "uamm - hybrid-retrieval question answering engine",
	Long: `uamm runs the answer pipeline behind an HTTP surface: retrieval,
semantic-entropy uncertainty estimation, structured verification, and a
conformal-prediction decision head, with a tool-dispatching refinement
loop for fixable issues.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the answer-pipeline HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the index and workspace databases",
	RunE:  runMigrate,
}

var importCalibrationCmd = &cobra.Command{
	Use:   "import-calibration [file]",
	Short: "Append conformal-prediction calibration artifacts from a JSON-lines file and recompute thresholds",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportCalibration,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "uamm.yaml", "Path to server config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importCalibrationCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	indexDB, err := store.OpenIndexDB(cfg.Storage.IndexDBPath)
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	defer indexDB.Close()

	workspaceDB, err := store.OpenWorkspaceDB(cfg.Storage.WorkspaceDBPath)
	if err != nil {
		return fmt.Errorf("open workspace db: %w", err)
	}
	defer workspaceDB.Close()
	workspaces := func(string) (*store.WorkspaceDB, error) { return workspaceDB, nil }

	embeddingEngine := embedding.NewEngineWithHealthFallback(ctx, embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.BaseURL,
		OllamaModel:    cfg.Embedding.Model,
		GenAIAPIKey:    cfg.Embedding.APIKey,
		GenAIModel:     cfg.Embedding.Model,
		TaskType:       cfg.Embedding.TaskType,
	})
	logger.Info("embedding engine ready", zap.String("backend", embeddingEngine.Name()))

	toolRegistry := tools.DefaultRegistry(tools.Policy{
		Egress:         security.DefaultEgressPolicy(),
		DB:             workspaceDB.DB(),
		TableAllowlist: nil,
		RateLimiter:    tools.NewTableRateLimiter(2, 4),
	})

	approvalStore := approvals.NewStore(time.Minute)
	defer approvalStore.Close()

	calibrator := uq.NewCalibrator(indexDB, 10*time.Minute)

	o := &orchestrator.Orchestrator{
		IndexDB:        indexDB,
		Workspaces:     workspaces,
		EmbeddingModel: embeddingEngine,
		UQEmbed:        embeddingEngine,
		Calibrator:     calibrator,
		Tools:          toolRegistry,
		Approvals:      approvalStore,
		ApprovalTTL:    cfg.GetApprovalTTL(),
		LatencyBudget:  cfg.GetLatencyBudget(),
	}

	server := httpapi.NewServer(o, approvalStore, indexDB, workspaces)

	logger.Info("listening", zap.String("addr", cfg.Server.Addr))
	if err := httpapi.Serve(ctx, cfg.Server.Addr, server); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shut down cleanly")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	indexDB, err := store.OpenIndexDB(cfg.Storage.IndexDBPath)
	if err != nil {
		return fmt.Errorf("migrate index db: %w", err)
	}
	defer indexDB.Close()

	workspaceDB, err := store.OpenWorkspaceDB(cfg.Storage.WorkspaceDBPath)
	if err != nil {
		return fmt.Errorf("migrate workspace db: %w", err)
	}
	defer workspaceDB.Close()

	logger.Info("migrations applied",
		zap.String("index_db", cfg.Storage.IndexDBPath),
		zap.String("workspace_db", cfg.Storage.WorkspaceDBPath))
	return nil
}

func runImportCalibration(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	indexDB, err := store.OpenIndexDB(cfg.Storage.IndexDBPath)
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	defer indexDB.Close()

	count, domains, err := importCalibrationFile(indexDB, args[0])
	if err != nil {
		return err
	}
	logger.Info("calibration artifacts imported", zap.Int("count", count))

	for domain := range domains {
		table, err := indexDB.RecomputeThreshold(domain, 0.1, 0.05)
		if err != nil {
			logger.Warn("threshold recompute failed", zap.String("domain", domain), zap.Error(err))
			continue
		}
		logger.Info("threshold recomputed",
			zap.String("domain", domain), zap.Float64("tau_accept", table.TauAccept))
	}
	return nil
}

// importCalibrationFile appends every artifact in a JSON-lines file of
// model.CalibrationArtifact objects, returning the count imported and the
// set of domains touched so the caller can recompute their thresholds.
func importCalibrationFile(indexDB *store.IndexDB, path string) (int, map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open calibration file: %w", err)
	}
	defer f.Close()

	domains := make(map[string]struct{})
	count := 0
	dec := json.NewDecoder(f)
	for {
		var artifact model.CalibrationArtifact
		if err := dec.Decode(&artifact); err != nil {
			if err == io.EOF {
				break
			}
			return count, domains, fmt.Errorf("decode calibration artifact %d: %w", count, err)
		}
		if err := indexDB.PutArtifact("import-"+path, artifact); err != nil {
			return count, domains, fmt.Errorf("store calibration artifact %d: %w", count, err)
		}
		domains[artifact.Domain] = struct{}{}
		count++
	}
	return count, domains, nil
}
