// Package store implements the flow store (C8): GORM-backed persistence
// of sessions, flows, findings, analysis records, and DNS queries, with a
// migration ledger and default-administrator bootstrap. Backend selection
// and dialector wiring follow marmos91-dittofs's
// pkg/controlplane/store.GORMStore (glebarez/sqlite by default, pure Go,
// WAL + busy_timeout pragmas for concurrent readers; gorm.io/driver/postgres
// as the HA-capable alternate).
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/brightlane/netsentry/internal/model"
)

// DatabaseType selects the backing SQL engine.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig is the SQLite-specific subset of Config.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig is the PostgreSQL-specific subset of Config.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (c *PostgresConfig) dsn() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config is the store's connection and pool configuration, translated
// from the database.{path,pool_size,max_overflow} keys plus mode.
type Config struct {
	Type        DatabaseType
	SQLite      SQLiteConfig
	Postgres    PostgresConfig
	PoolSize    int
	MaxOverflow int
	// Production, when true, makes a pending schema migration a fatal
	// start error instead of auto-applying it.
	Production bool
	// AdminUsername/AdminPasswordHash, if both set, bootstrap a single
	// administrator identity on a fresh (userless) store.
	AdminUsername     string
	AdminPasswordHash string
}

func (c *Config) applyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
	}
}

func (c *Config) validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return fmt.Errorf("postgres host, database, and user are required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// schemaVersion is the current migration ledger revision this binary
// expects. Bumping it without a corresponding migration routine is a bug.
const schemaVersion = 1

// migrationLedger is the persisted record of which schema revision a
// database has been brought up to.
type migrationLedger struct {
	ID      uint `gorm:"primaryKey"`
	Version int
}

func (migrationLedger) TableName() string { return "schema_migrations" }

// adminUser is the minimal administrator identity bootstrapped on first
// run. Authentication beyond existence of this row is out of scope.
type adminUser struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex"`
	PasswordHash string
}

func (adminUser) TableName() string { return "users" }

// Store is the GORM-backed implementation of C8.
type Store struct {
	db     *gorm.DB
	config *Config
}

// New opens the configured database, runs (or verifies, in production
// mode) the migration ledger, and bootstraps a default administrator if
// configured and the users table is empty.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if dir := filepath.Dir(config.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)
	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.dsn())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.PoolSize + config.MaxOverflow)
		sqlDB.SetMaxIdleConns(config.PoolSize)
	}

	s := &Store{db: db, config: config}
	if err := s.reconcileSchema(); err != nil {
		return nil, err
	}
	if err := s.bootstrapAdmin(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to bootstrap administrator: %w", err)
	}
	return s, nil
}

// reconcileSchema consults the migration ledger. In development mode a
// pending migration (ledger row absent or behind schemaVersion) is applied
// automatically via AutoMigrate and the ledger advanced. In production
// mode a pending migration is a fatal start error.
func (s *Store) reconcileSchema() error {
	if err := s.db.AutoMigrate(&migrationLedger{}); err != nil {
		return fmt.Errorf("failed to migrate schema ledger: %w", err)
	}

	var ledger migrationLedger
	err := s.db.First(&ledger).Error
	pending := errors.Is(err, gorm.ErrRecordNotFound) || ledger.Version < schemaVersion
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read migration ledger: %w", err)
	}

	if pending && s.config.Production {
		return fmt.Errorf("schema migration pending in production mode: run migrations out of band")
	}
	if !pending {
		return nil
	}

	if err := s.db.AutoMigrate(
		&adminUser{},
		&model.Session{},
		&model.Flow{},
		&model.Finding{},
		&model.AnalysisRecord{},
		&model.DNSQuery{},
	); err != nil {
		return fmt.Errorf("failed to run database migration: %w", err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		ledger = migrationLedger{Version: schemaVersion}
		return s.db.Create(&ledger).Error
	}
	ledger.Version = schemaVersion
	return s.db.Save(&ledger).Error
}

// bootstrapAdmin creates a single administrator identity on a fresh
// (userless) store when the configuration supplies credentials. If neither
// the store nor the configuration has an administrator, it logs nothing
// itself — the caller is expected to surface the first-run notice.
func (s *Store) bootstrapAdmin(ctx context.Context) error {
	if s.config.AdminUsername == "" || s.config.AdminPasswordHash == "" {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&adminUser{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Create(&adminUser{
		Username:     s.config.AdminUsername,
		PasswordHash: s.config.AdminPasswordHash,
	}).Error
	if isUniqueConstraintError(err) {
		// Another bootstrap race already created the administrator; the
		// count check above is not atomic with the insert.
		return nil
	}
	return err
}

// HasAdministrator reports whether any administrator identity exists.
func (s *Store) HasAdministrator(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&adminUser{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// StoreFlow persists flow, findings, and analysis records atomically: all
// three succeed together or the batch is rolled back. Callers must not
// treat a returned error as fatal to the capture path.
func (s *Store) StoreFlow(ctx context.Context, flow *model.Flow, findings []model.Finding, records []model.AnalysisRecord) error {
	if flow.ID == "" {
		flow.ID = model.NewID()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(flow).Error; err != nil {
			return fmt.Errorf("store flow: %w", err)
		}
		for i := range findings {
			if findings[i].ID == "" {
				findings[i].ID = model.NewID()
			}
			findings[i].FlowID = flow.ID
		}
		if len(findings) > 0 {
			if err := tx.Create(&findings).Error; err != nil {
				return fmt.Errorf("store findings: %w", err)
			}
		}
		for i := range records {
			if records[i].ID == "" {
				records[i].ID = model.NewID()
			}
			records[i].FlowID = flow.ID
		}
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return fmt.Errorf("store analysis records: %w", err)
			}
		}
		return nil
	})
}

// StoreAnalysisResults atomically inserts findings and analysis records
// produced for an already-persisted flow (flowID). Used by the analysis
// orchestrator, which runs after C7 has already written the flow itself.
func (s *Store) StoreAnalysisResults(ctx context.Context, flowID string, findings []model.Finding, records []model.AnalysisRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range findings {
			if findings[i].ID == "" {
				findings[i].ID = model.NewID()
			}
			findings[i].FlowID = flowID
		}
		if len(findings) > 0 {
			if err := tx.Create(&findings).Error; err != nil {
				return fmt.Errorf("store findings: %w", err)
			}
		}
		for i := range records {
			if records[i].ID == "" {
				records[i].ID = model.NewID()
			}
			records[i].FlowID = flowID
		}
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return fmt.Errorf("store analysis records: %w", err)
			}
		}
		return nil
	})
}

// StoreSession upserts a session record keyed by its ID.
func (s *Store) StoreSession(ctx context.Context, session *model.Session) error {
	return s.db.WithContext(ctx).Save(session).Error
}

// StoreDNS bulk-inserts DNS queries; a failure rolls back the whole set.
func (s *Store) StoreDNS(ctx context.Context, queries []model.DNSQuery) error {
	if len(queries) == 0 {
		return nil
	}
	for i := range queries {
		if queries[i].ID == "" {
			queries[i].ID = model.NewID()
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&queries).Error
	})
}

// DB exposes the underlying GORM handle for read-side queries (§6).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetFlow looks up a single flow by id, returning ErrNotFound when no such
// flow exists rather than the raw gorm sentinel.
func (s *Store) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	var flow model.Flow
	err := s.db.WithContext(ctx).First(&flow, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &flow, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// ErrNotFound is returned by query helpers that translate
// gorm.ErrRecordNotFound into a store-local sentinel.
var ErrNotFound = errors.New("record not found")

func convertNotFoundError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
