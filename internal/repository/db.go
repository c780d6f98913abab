package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
)

// One directory per ent dialect name: migrations/sqlite3, migrations/postgres.
//
//go:embed migrations
var migrations embed.FS

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is the run ledger connection: an ent SQL driver over either a pgx pool or an
// embedded SQLite database.
type DB struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// Open connects to cfg.DSN and applies the embedded migrations. DSNs starting with
// sqlite:// open a SQLite file (or sqlite://:memory:), anything else is handed to pgx.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		db  *DB
		err error
	)
	if rest, ok := strings.CutPrefix(cfg.DSN, "sqlite://"); ok {
		db, err = openSQLite(rest, logger)
	} else {
		db, err = openPostgres(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("failed to connect to database", "dialect", dialectOf(cfg.DSN), "error", err)
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("successfully connected to database", "dialect", db.dialect)
	return db, nil
}

func openSQLite(file string, logger *slog.Logger) (*DB, error) {
	var dsn string
	if file == ":memory:" || file == "" {
		// shared cache keeps one database per Open across pooled connections
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", file)
	}
	logger.Info("connecting to database", "dialect", dialect.SQLite, "file", file)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &DB{drv: entsql.OpenDB(dialect.SQLite, sqlDB), dialect: dialect.SQLite, logger: logger}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "dialect", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "coupon-scraper"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	sqlDB := stdlib.OpenDBFromPool(pool)
	return &DB{drv: entsql.OpenDB(dialect.Postgres, sqlDB), dialect: dialect.Postgres, pool: pool, logger: logger}, nil
}

func dialectOf(dsn string) string {
	if strings.HasPrefix(dsn, "sqlite://") {
		return dialect.SQLite
	}
	return dialect.Postgres
}

// Dialect is dialect.SQLite or dialect.Postgres.
func (d *DB) Dialect() string { return d.dialect }

func (d *DB) builder() *entsql.DialectBuilder { return entsql.Dialect(d.dialect) }

// Migrate applies every embedded migration for the dialect that is not recorded yet.
func (d *DB) Migrate(ctx context.Context) error {
	const ledger = `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`
	if err := d.drv.Exec(ctx, ledger, []any{}, nil); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", d.dialect)
	names, err := fs.Glob(migrations, path.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(path.Base(name), ".sql")
		applied, err := d.migrationApplied(ctx, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		script, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(script)) {
			if err := d.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
				return fmt.Errorf("migration %s: %w", version, err)
			}
		}
		q, args := d.builder().Insert("schema_migrations").Columns("version").Values(version).Query()
		if err := d.drv.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		d.logger.Info("applied migration", "version", version)
	}
	return nil
}

func (d *DB) migrationApplied(ctx context.Context, version string) (bool, error) {
	q, args := d.builder().Select("version").From(entsql.Table("schema_migrations")).
		Where(entsql.EQ("version", version)).Query()
	var rows entsql.Rows
	if err := d.drv.Query(ctx, q, args, &rows); err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.logger.Info("closing database connections")
	if err := d.drv.Close(); err != nil {
		d.logger.Error("failed to close ent driver", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	d.logger.Debug("pinging database")
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.drv.DB().PingContext(ctx)
}

func dbErr(err error, msg string) error {
	return fmt.Errorf("%s: %w: %w", msg, common.ErrDatabase, err)
}
