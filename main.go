package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geosense/data"
	"geosense/db"
	ghttp "geosense/http"
	"geosense/ingest"
	"geosense/logging"
	"geosense/model"
	"geosense/monitoring"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Dataset struct {
		GridPath   string `yaml:"grid_path"`
		Charset    string `yaml:"charset"`
		TimeColumn string `yaml:"time_column"`
		X1Column   string `yaml:"x1_column"`
		X2Column   string `yaml:"x2_column"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"dataset"`
	Processor struct {
		X1Lo      float64 `yaml:"x1_lo"`
		X1Hi      float64 `yaml:"x1_hi"`
		X2Lo      float64 `yaml:"x2_lo"`
		X2Hi      float64 `yaml:"x2_hi"`
		Method    string  `yaml:"method"`
		Strict    bool    `yaml:"strict"`
		StatsPath string  `yaml:"stats_path"`
	} `yaml:"processor"`
	Model struct {
		Type string `yaml:"type"`
		Path string `yaml:"path"`
	} `yaml:"model"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Http struct {
		Port           int      `yaml:"port"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`
	Log  logging.Config `yaml:"log"`
	Seed int64          `yaml:"seed"`
}

func main() {
	// Look for config in root even if run from cmd/
	configPath := "config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = filepath.Join("..", "config.yaml")
	}

	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(config.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := db.InitDB(config.Database.Path); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.CloseDB()
	logger.Info("database initialized", zap.String("path", config.Database.Path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rawGrid, err := loadGrid(config, logger)
	if err != nil {
		logger.Fatal("failed to load dataset", zap.String("path", config.Dataset.GridPath), zap.Error(err))
	}
	logger.Info("dataset loaded",
		zap.Int("times", len(rawGrid.Times)),
		zap.Strings("variables", rawGrid.VarNames))

	processor, err := buildProcessor(config, rawGrid)
	if err != nil {
		logger.Fatal("failed to build processor", zap.Error(err))
	}

	normGrid, err := processor.NormalizeGrid(rawGrid)
	if err != nil {
		logger.Fatal("failed to normalize dataset", zap.Error(err))
	}

	if config.Processor.StatsPath != "" {
		if err := saveStats(processor, config.Processor.StatsPath); err != nil {
			logger.Warn("failed to save scaling stats", zap.Error(err))
		}
	}

	loader, err := data.NewLoader(
		[]data.Source{normGrid},
		[]data.Source{normGrid},
		data.WithSeed(config.Seed),
	)
	if err != nil {
		logger.Fatal("failed to build task loader", zap.Error(err))
	}

	ghttp.SetPredictEnv(&ghttp.PredictEnv{
		Processor: processor,
		Loader:    loader,
		X1:        rawGrid.X1,
		X2:        rawGrid.X2,
	})

	// Serve the persisted model when one exists; predictions return 503
	// until the first training run saves one.
	modelType := config.Model.Type
	if modelType == "" {
		modelType = model.ModelTypeGP
	}
	watcher, err := model.NewWatcher(modelType, config.Model.Path, logger)
	if err != nil {
		logger.Warn("no model loaded yet", zap.String("path", config.Model.Path), zap.Error(err))
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
		ghttp.SetModelProvider(watcher)
	}

	hub := monitoring.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	monitor := monitoring.NewTrainingMonitor(hub, logger)
	go heartbeatLoop(ctx, monitor)

	ghttp.SetTrainEnv(&ghttp.TrainEnv{
		Loader:    loader,
		Times:     rawGrid.Times,
		Monitor:   monitor,
		Logger:    logger,
		Processor: processor,
		X1:        rawGrid.X1,
		X2:        rawGrid.X2,
	})

	serverConfig := ghttp.DefaultServerConfig()
	if config.Http.Port > 0 {
		serverConfig.Port = config.Http.Port
	}
	if config.Http.TimeoutSeconds > 0 {
		serverConfig.Timeout = time.Duration(config.Http.TimeoutSeconds) * time.Second
	}
	if len(config.Http.AllowedOrigins) > 0 {
		serverConfig.AllowedOrigins = config.Http.AllowedOrigins
	}

	server := ghttp.NewServer(serverConfig, hub, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("exiting")
}

func loadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadGrid reads the long-form CSV, runs the default quality-control chain
// and assembles the surviving rows into a dense grid.
func loadGrid(config *Config, logger *zap.Logger) (*data.Grid, error) {
	file, err := os.Open(config.Dataset.GridPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	frame, err := ingest.ReadStationsCSV(file, ingest.Options{
		Charset:    config.Dataset.Charset,
		TimeColumn: config.Dataset.TimeColumn,
		X1Column:   config.Dataset.X1Column,
		X2Column:   config.Dataset.X2Column,
		TimeFormat: config.Dataset.TimeFormat,
	})
	if err != nil {
		return nil, err
	}

	cleaner := ingest.NewCleaner()
	cleaned, issues := cleaner.Clean(frame)
	if len(issues) > 0 {
		stats := cleaner.Stats()
		logger.Warn("dataset rows rejected by quality control",
			zap.Int("rejected", len(issues)),
			zap.Int64("passed", stats.Passed),
			zap.Any("by_rule", stats.Issues))
	}

	return ingest.GridFromFrame(cleaned)
}

// buildProcessor falls back to the grid's own extent when the config leaves
// the coordinate ranges unset.
func buildProcessor(config *Config, grid *data.Grid) (*data.Processor, error) {
	x1Map := data.CoordMap{Lo: config.Processor.X1Lo, Hi: config.Processor.X1Hi}
	x2Map := data.CoordMap{Lo: config.Processor.X2Lo, Hi: config.Processor.X2Hi}
	if x1Map.Lo == 0 && x1Map.Hi == 0 && len(grid.X1) > 0 {
		x1Map.Lo, x1Map.Hi = grid.X1[0], grid.X1[len(grid.X1)-1]
	}
	if x2Map.Lo == 0 && x2Map.Hi == 0 && len(grid.X2) > 0 {
		x2Map.Lo, x2Map.Hi = grid.X2[0], grid.X2[len(grid.X2)-1]
	}

	return data.NewProcessor(data.ProcessorConfig{
		TimeName: grid.TimeName,
		X1Name:   grid.X1Name,
		X2Name:   grid.X2Name,
		X1Map:    x1Map,
		X2Map:    x2Map,
		Method:   config.Processor.Method,
		Strict:   config.Processor.Strict,
	})
}

func saveStats(p *data.Processor, path string) error {
	payload, err := p.MarshalStats()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func heartbeatLoop(ctx context.Context, monitor *monitoring.TrainingMonitor) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.Heartbeat()
		}
	}
}
