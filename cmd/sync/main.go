package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"cryptofolio/internal/coingecko"
	"cryptofolio/internal/database"
	"cryptofolio/internal/marketdata"
	"cryptofolio/internal/pipeline"
	"cryptofolio/internal/portfolio"
	"cryptofolio/internal/resolve"
)

// One-shot pipeline run: catalog refresh, symbol resolution, market
// snapshot, historical series, portfolio reconstruction, rollup.
func main() {
	godotenv.Load()
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer db.Close()

	logger := logrus.New()

	repo := database.New(db, logger)
	client := coingecko.NewClient(
		coingecko.WithAPIKey(os.Getenv("COINGECKO_API_KEY")),
		coingecko.WithLogger(logger),
	)
	sync := marketdata.New(repo, client, logger,
		marketdata.WithWorkers(envInt("SYNC_WORKERS", 1)))
	resolver := resolve.New(repo, logger, resolve.ParseOverrides(os.Getenv("ASSET_OVERRIDES")))
	engine := portfolio.New(repo, logger)
	pipe := pipeline.New(client, repo, sync, resolver, engine, logger,
		envInt("HISTORY_DAYS", marketdata.DefaultHistoryDays))

	if err := pipe.Run(context.Background()); err != nil {
		logger.Fatalf("pipeline failed: %v", err)
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil && iv > 0 {
			return iv
		}
	}
	return def
}
