package postgres

import (
	"context"
	"fmt"

	"histcache/config"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Client wraps the gorm handle for the historical bar store.
type Client struct {
	DB *gorm.DB
}

func NewClient(dsn string, cfg config.PostgresConfig) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	raw, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		raw.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		raw.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Client{DB: db}, nil
}

// InitializeAndMigrate connects to Postgres, optionally creates the DB, and
// runs AutoMigrate for all record types.
func InitializeAndMigrate(cfg config.PostgresConfig, env string, createDB bool) (*Client, error) {
	if createDB {
		if err := CreateDatabase(cfg, env); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewClient(cfg.DSN(env), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&InstrumentRecord{}, &BarRecord{}, &DataQualityRecord{}); err != nil {
		return fmt.Errorf("auto-migrate bar tables: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
