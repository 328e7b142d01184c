package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the configuration for connecting to the
// PostgreSQL/TimescaleDB instance holding historical bars.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the connection string. In prod, credentials come from the AWS
// SSM Parameter Store instead of the config file.
func (cfg *PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password

	if env == "prod" {
		if v := getParameterStoreValue("HISTCACHE_DB_HOST", true); v != "" {
			host = v
		}
		if v := getParameterStoreValue("HISTCACHE_DB_USER", true); v != "" {
			user = v
		}
		if v := getParameterStoreValue("HISTCACHE_DB_PASSWORD", true); v != "" {
			password = v
		}
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, cfg.DBName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn
}

func getParameterStoreValue(parameterName string, decrypt bool) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return ""
	}

	client := ssm.NewFromConfig(cfg)

	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return ""
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return ""
	}
	return *result.Parameter.Value
}
