package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func sqliteDescriptor(t *testing.T) *Descriptor {
	t.Helper()
	d, err := NewDescriptor(Options{Kind: KindSQLite, Path: filepath.Join(t.TempDir(), "nested", "podflix.db")})
	require.NoError(t, err)
	return d
}

func TestDescriptor_SQLiteConnectionStrings(t *testing.T) {
	d := sqliteDescriptor(t)

	_, err := os.Stat(filepath.Dir(d.Path))
	require.NoError(t, err, "parent directory is created")

	assert.Equal(t, "sqlite:///"+d.Path, d.SyncConnectionString())
	assert.Equal(t, "sqlite+gorm:///"+d.Path, d.AsyncConnectionString())

	_, syncRest, err := parseConnString(d.SyncConnectionString())
	require.NoError(t, err)
	_, asyncRest, err := parseConnString(d.AsyncConnectionString())
	require.NoError(t, err)
	assert.Equal(t, syncRest, asyncRest, "both strings reference the same file")
}

func TestDescriptor_MySQLFromFields(t *testing.T) {
	d, err := NewDescriptor(Options{Kind: KindMySQL, Host: "db", User: "u", Password: "p", Name: "podflix"})
	require.NoError(t, err)

	assert.Equal(t, "u:p@db:3306/podflix", d.ConnectionPath())
	assert.Equal(t, "mysql://u:p@db:3306/podflix", d.SyncConnectionString())
	assert.Equal(t, "mysql+gorm://u:p@db:3306/podflix", d.AsyncConnectionString())
}

func TestDescriptor_MySQLURLSchemeStripped(t *testing.T) {
	d, err := NewDescriptor(Options{Kind: KindMySQL, URL: "mysql+pymysql://u:p@db:3307/x"})
	require.NoError(t, err)
	assert.Equal(t, "mysql+gorm://u:p@db:3307/x", d.AsyncConnectionString())
}

func TestDescriptor_UnknownKind(t *testing.T) {
	_, err := NewDescriptor(Options{Kind: "postgres"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestFactory_ReturnsFirstDescriptor(t *testing.T) {
	f := NewFactory()
	first, err := f.Create(Options{Kind: KindSQLite, Path: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)

	second, err := f.Create(Options{Kind: KindMySQL, Host: "elsewhere"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, KindSQLite, second.Kind)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("u:p@db:3306/podflix")
	require.NoError(t, err)
	assert.Contains(t, dsn, "u:p@tcp(db:3306)/podflix")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("CREATE TABLE a (x INT);\n\n ;CREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, got)
}

func tableNames(t *testing.T, d *Descriptor) []string {
	t.Helper()
	gdb, err := Connect(d.AsyncConnectionString())
	require.NoError(t, err)
	defer Close(gdb)

	var names []string
	require.NoError(t, gdb.Raw("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name").Scan(&names).Error)
	return names
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	d := sqliteDescriptor(t)
	m := NewManager(d)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	want := []string{"chat_messages", "chat_sessions", "transcription_jobs", "transcripts", "users"}
	assert.Equal(t, want, tableNames(t, d))

	// second run sees the marker table and does nothing
	require.NoError(t, m.Initialize(ctx))
	assert.Equal(t, want, tableNames(t, d))
}

func TestManager_DropRemovesTablesAndIsNoOpAfter(t *testing.T) {
	d := sqliteDescriptor(t)
	m := NewManager(d)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Drop(ctx))
	assert.Empty(t, tableNames(t, d))

	require.NoError(t, m.Drop(ctx))
}

func TestManager_RetriesTransientOpenErrors(t *testing.T) {
	d := sqliteDescriptor(t)
	calls := 0
	m := newManager(KindSQLite, func(ctx context.Context) (*gorm.DB, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("dial: %w", syscall.ECONNREFUSED)
		}
		return Connect(d.SyncConnectionString())
	})
	m.InitialInterval = time.Millisecond
	m.MaxInterval = 5 * time.Millisecond

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Contains(t, tableNames(t, d), "users")
}

func TestManager_GivesUpAfterMaxTries(t *testing.T) {
	calls := 0
	m := newManager(KindSQLite, func(ctx context.Context) (*gorm.DB, error) {
		calls++
		return nil, driver.ErrBadConn
	})
	m.InitialInterval = time.Millisecond
	m.MaxInterval = 2 * time.Millisecond

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrBadConn))
	assert.Equal(t, 3, calls)
}

func TestManager_StatementErrorIsNotRetried(t *testing.T) {
	calls := 0
	m := newManager(KindSQLite, func(ctx context.Context) (*gorm.DB, error) {
		calls++
		return nil, errors.New("near \"CREAT\": syntax error")
	})
	m.InitialInterval = time.Millisecond

	require.Error(t, m.Initialize(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsTransient(errors.New("table users already exists")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(fmt.Errorf("exec: %w", context.Canceled)))
}
