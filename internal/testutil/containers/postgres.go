//go:build integration

package containers

import (
	"context"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	postgresOnce sync.Once
	postgresDSN  string
	postgresErr  error
)

// PostgresDB returns a gorm handle on a shared postgres container, starting
// it on first use. Set SKIP_DOCKER_TESTS=1 to skip.
func PostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	skipWithoutDocker(t)

	postgresOnce.Do(func() {
		ctx := context.Background()
		var container *tcpostgres.PostgresContainer
		container, postgresErr = tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("idverify"),
			tcpostgres.WithUsername("idverify"),
			tcpostgres.WithPassword("idverify"),
			tcpostgres.BasicWaitStrategies(),
		)
		if postgresErr != nil {
			return
		}
		postgresDSN, postgresErr = container.ConnectionString(ctx, "sslmode=disable")
		if postgresErr != nil {
			_ = testcontainers.TerminateContainer(container)
		}
	})
	if postgresErr != nil {
		t.Fatalf("start postgres container: %v", postgresErr)
	}

	db, err := gorm.Open(postgres.Open(postgresDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
