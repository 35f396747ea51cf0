package db

import (
	"context"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/logging"
)

//go:embed schema
var schemaFiles embed.FS

// markerTable decides whether the schema is considered present.
const markerTable = "users"

// Manager applies the bundled schema files over a sync connection.
//
// All statements of a file run inside one transaction. MySQL commits DDL
// implicitly, so a failure halfway through init.sql on MySQL leaves the
// earlier tables in place.
type Manager struct {
	kind Kind
	open func(ctx context.Context) (*gorm.DB, error)
	log  *logrus.Entry

	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

// NewManager builds a manager that opens the descriptor's sync connection
// once per attempt.
func NewManager(d *Descriptor) *Manager {
	conn := d.SyncConnectionString()
	return newManager(d.Kind, func(ctx context.Context) (*gorm.DB, error) {
		gdb, err := Connect(conn)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return gdb, nil
	})
}

func newManager(kind Kind, open func(ctx context.Context) (*gorm.DB, error)) *Manager {
	return &Manager{
		kind:            kind,
		open:            open,
		log:             logging.New("schema"),
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxTries:        3,
	}
}

// Initialize creates every table unless the marker table already exists.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.execute(ctx, "init.sql", true, "Initializing")
}

// Drop removes every table when the marker table exists.
func (m *Manager) Drop(ctx context.Context) error {
	return m.execute(ctx, "drop.sql", false, "Dropping")
}

func (m *Manager) execute(ctx context.Context, file string, skipIfExists bool, action string) error {
	stmts, err := m.statements(file)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.InitialInterval
	b.MaxInterval = m.MaxInterval
	b.Multiplier = 2

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := m.attempt(ctx, stmts, skipIfExists, action)
		if err != nil && !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.WithError(err).WithField("retry_in", next).Warn("schema: transient database error")
		}),
	)
	return err
}

func (m *Manager) attempt(ctx context.Context, stmts []string, skipIfExists bool, action string) error {
	gdb, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = Close(gdb) }()

	exists, err := m.tableExists(ctx, gdb, markerTable)
	if err != nil {
		return err
	}
	if exists == skipIfExists {
		if exists {
			m.log.Info("Tables already exist. Skipping initialization.")
		} else {
			m.log.Info("Tables do not exist. Skipping drop.")
		}
		return nil
	}

	m.log.WithField("kind", m.kind).Infof("%s database schema", action)
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("schema: statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (m *Manager) tableExists(ctx context.Context, gdb *gorm.DB, table string) (bool, error) {
	var n int64
	q := gdb.WithContext(ctx)
	switch m.kind {
	case KindSQLite:
		q = q.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	case KindMySQL:
		q = q.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, m.kind)
	}
	if err := q.Scan(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *Manager) statements(file string) ([]string, error) {
	raw, err := schemaFiles.ReadFile("schema/" + string(m.kind) + "/" + file)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", file, err)
	}
	return SplitStatements(string(raw)), nil
}

// SplitStatements splits a SQL script on ';', dropping blank statements.
func SplitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsTransient reports whether err is a connection level failure worth
// retrying. Statement errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// context errors satisfy net.Error but mean the caller gave up
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "connection refused")
}
