package startup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/config"
	"github.com/localhub/internal/logger"
)

// ConnectDB открывает пул Postgres с ограниченным числом соединений и ждёт, пока БД ответит на ping.
func ConnectDB(ctx context.Context, cfg *config.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns
	}

	var pool *pgxpool.Pool
	err = retry(ctx, "db connect", maxWait, 2*time.Second, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(connCtx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Параметры встроенного Postgres для -dev.
const (
	devPGPort     = 5432
	devPGUser     = "localhub"
	devPGPassword = "localhub_secret"
	devPGDatabase = "localhub"
)

// StartEmbeddedPostgres поднимает встроенный PostgreSQL (данные в ./.pgdata) и
// переключает cfg на него.
func StartEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(devPGPort).
			Username(devPGUser).
			Password(devPGPassword).
			Database(devPGDatabase).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "localhub-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("embedded postgres start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		devPGUser, devPGPassword, devPGPort, devPGDatabase,
	)
	logger.Infof("embedded PostgreSQL running on port %d", devPGPort)
	return db, nil
}
