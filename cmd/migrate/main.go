package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"emailagent/internal/config"
	"emailagent/migrations"
	"emailagent/pkg/db"
	"emailagent/pkg/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zl.Sync()

	if *down {
		if err := db.RollbackMigration(cfg.DB, migrations.FS, migrations.Dir); err != nil {
			zl.Fatal("Rollback failed", zap.Error(err))
		}
		zl.Info("Rolled back one migration")
		return
	}

	if err := db.ApplyMigrations(cfg.DB, migrations.FS, migrations.Dir, zl); err != nil {
		zl.Fatal("Migration failed", zap.Error(err))
	}
}
