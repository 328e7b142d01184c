package postgres_test

import (
	"testing"

	"histcache/pkg/storage/postgres"
)

// go test -v --run TestCreateDatabase
func TestCreateDatabase(t *testing.T) {
	cfg := testConfig()

	if err := postgres.CreateDatabase(cfg, "dev"); err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
}
