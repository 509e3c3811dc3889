package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Oracle     OracleConfig     `json:"oracle"`
	Settlement SettlementConfig `json:"settlement"`
	Quorum     QuorumConfig     `json:"quorum"`
	Evidence   EvidenceConfig   `json:"evidence"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// OracleConfig configures the external visual-analysis service
type OracleConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     int           `json:"max_retries"`
	TotalBudget    time.Duration `json:"total_budget"`
	HighThreshold  float64       `json:"high_threshold"`
	LowThreshold   float64       `json:"low_threshold"`
}

// SettlementConfig configures the external ledger collaborator
type SettlementConfig struct {
	LedgerURL      string        `json:"ledger_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	SweepSchedule  string        `json:"sweep_schedule"`
	SweepBatchSize int           `json:"sweep_batch_size"`
}

// QuorumConfig holds default quorum policy; per-milestone values override it
type QuorumConfig struct {
	DefaultRequiredApprovals int `json:"default_required_approvals"`
}

// EvidenceConfig configures evidence image storage
type EvidenceConfig struct {
	Bucket         string        `json:"bucket"`
	Region         string        `json:"region"`
	UploadExpiry   time.Duration `json:"upload_expiry"`
	DownloadExpiry time.Duration `json:"download_expiry"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "fieldproof_verification",
			SSLMode: "disable",
		},
		Oracle: OracleConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     2,
			TotalBudget:    90 * time.Second,
			HighThreshold:  0.85,
			LowThreshold:   0.4,
		},
		Settlement: SettlementConfig{
			RequestTimeout: 15 * time.Second,
			SweepSchedule:  "@every 1m",
			SweepBatchSize: 25,
		},
		Quorum: QuorumConfig{
			DefaultRequiredApprovals: 3,
		},
		Evidence: EvidenceConfig{
			Bucket:         "fieldproof-evidence",
			Region:         "us-east-1",
			UploadExpiry:   15 * time.Minute,
			DownloadExpiry: time.Hour,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if oracleURL := os.Getenv("ORACLE_BASE_URL"); oracleURL != "" {
		config.Oracle.BaseURL = oracleURL
	}
	if ledgerURL := os.Getenv("LEDGER_URL"); ledgerURL != "" {
		config.Settlement.LedgerURL = ledgerURL
	}
	if bucket := os.Getenv("EVIDENCE_BUCKET"); bucket != "" {
		config.Evidence.Bucket = bucket
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
