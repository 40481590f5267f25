// Package database reads the observed application's message store. The
// harness only ever runs two read-only queries against it, used by the
// conversation-structure evaluator.
package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds the database connection settings.
type Config struct {
	// DSN is the postgres connection string. Empty disables the client.
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// Table is the message table name.
	Table string `yaml:"table" env:"TABLE"`
}

// DefaultConfig returns conservative pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
		Table:           "mira_messages",
	}
}

// MessageRow is one row of the role/sequence listing.
type MessageRow struct {
	Role        string `gorm:"column:role"`
	SequenceNum int    `gorm:"column:sequence_num"`
}

// AssistantRow is one assistant message with its raw parts and metadata.
type AssistantRow struct {
	Parts       string `gorm:"column:parts"`
	Metadata    string `gorm:"column:metadata"`
	SequenceNum int    `gorm:"column:sequence_num"`
}

// Client reads conversation rows from the application database.
type Client struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// Open connects to the database. An empty DSN returns a nil client, which
// dependent evaluators treat as "database check unavailable".
func Open(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get connection pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewClient(db, cfg.Table, logger), nil
}

// NewClient wraps an existing gorm handle. Tests use this with sqlite.
func NewClient(db *gorm.DB, table string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = "mira_messages"
	}
	return &Client{
		db:     db,
		table:  table,
		logger: logger.With(zap.String("component", "database")),
	}
}

// SessionMessages lists user and assistant rows of one chat in sequence
// order.
func (c *Client) SessionMessages(ctx context.Context, chatID string) ([]MessageRow, error) {
	var rows []MessageRow
	query := fmt.Sprintf(
		"SELECT role, sequence_num FROM %s WHERE chat_id = ? AND (role = 'user' OR role = 'assistant') ORDER BY sequence_num ASC",
		c.table)
	if err := c.db.WithContext(ctx).Raw(query, chatID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	return rows, nil
}

// AssistantMessages lists assistant rows of one chat with their parts and
// metadata payloads, in sequence order.
func (c *Client) AssistantMessages(ctx context.Context, chatID string) ([]AssistantRow, error) {
	var rows []AssistantRow
	query := fmt.Sprintf(
		"SELECT parts, metadata, sequence_num FROM %s WHERE chat_id = ? AND role = 'assistant' ORDER BY sequence_num ASC",
		c.table)
	if err := c.db.WithContext(ctx).Raw(query, chatID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query assistant messages: %w", err)
	}
	return rows, nil
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
