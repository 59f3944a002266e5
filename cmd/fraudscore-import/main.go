// Import tool for seeding fraudscore's stores.
//
// Usage:
//   go run ./cmd/fraudscore-import -csv ./Data/fraud_data_cleaned_before_encode.csv -driver sqlite
//   go run ./cmd/fraudscore-import -artifact ./model/fraud-model.json -id fraud-model
//
// This tool:
//   1. Loads the cleaned transaction CSV into the sqlite or postgres dataset
//   2. Optionally publishes a model artifact JSON into the redis artifact store
//
// Connection settings come from the same FRAUDSCORE_* environment as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudscore/internal/config"
	"github.com/opensource-finance/fraudscore/internal/dataset"
	"github.com/opensource-finance/fraudscore/internal/domain"
	"github.com/opensource-finance/fraudscore/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	csvPath := flag.String("csv", cfg.Dataset.CSVPath, "Path to the cleaned transaction CSV")
	driver := flag.String("driver", "sqlite", "Dataset driver to import into (sqlite or postgres)")
	replace := flag.Bool("replace", false, "Replace existing rows; they are kept if the import fails")
	skipDataset := flag.Bool("skip-dataset", false, "Do not import the transaction CSV")
	artifactPath := flag.String("artifact", "", "Model artifact JSON to store in redis")
	artifactID := flag.String("id", cfg.Model.ID, "Identifier for the stored artifact")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*skipDataset {
		cfg.Dataset.Driver = *driver
		if err := importDataset(ctx, cfg.Dataset, *csvPath, *replace); err != nil {
			slog.Error("dataset import failed", "error", err)
			os.Exit(1)
		}
	}

	if *artifactPath != "" {
		if err := importArtifact(ctx, cfg.Model, *artifactPath, *artifactID); err != nil {
			slog.Error("artifact import failed", "error", err)
			os.Exit(1)
		}
	}
}

func importDataset(ctx context.Context, cfg domain.DatasetConfig, csvPath string, replace bool) error {
	start := time.Now()

	rows, err := dataset.NewCSVSource(csvPath).Load(ctx)
	if err != nil {
		return err
	}
	slog.Info("read transaction csv", "path", csvPath, "rows", len(rows))

	source, err := dataset.NewSQLSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	if replace {
		err = source.Replace(ctx, rows)
	} else {
		err = source.Insert(ctx, rows)
	}
	if err != nil {
		return err
	}

	slog.Info("dataset imported",
		"driver", cfg.Driver,
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func importArtifact(ctx context.Context, cfg domain.ModelConfig, path, id string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	store, err := model.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Put(ctx, id, data); err != nil {
		return err
	}

	slog.Info("artifact stored", "id", id, "key", model.Key(id), "bytes", len(data))
	return nil
}
