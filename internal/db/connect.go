package db

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/podflix/internal/logging"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// parseConnString splits "<kind>[+driver]://<rest>" into kind and rest.
func parseConnString(conn string) (Kind, string, error) {
	i := strings.Index(conn, "://")
	if i < 0 {
		return "", "", fmt.Errorf("db: connection string %q has no scheme", conn)
	}
	scheme := conn[:i]
	if j := strings.IndexByte(scheme, '+'); j >= 0 {
		scheme = scheme[:j]
	}
	return Kind(scheme), conn[i+3:], nil
}

func dialector(conn string) (gorm.Dialector, Kind, error) {
	kind, rest, err := parseConnString(conn)
	if err != nil {
		return nil, "", err
	}
	switch kind {
	case KindSQLite:
		path := strings.TrimPrefix(rest, "/")
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return gormsqlite.Open(path + sep + sqlitePragmas), kind, nil
	case KindMySQL:
		dsn, err := mysqlDSN(rest)
		if err != nil {
			return nil, "", err
		}
		return gormmysql.Open(dsn), kind, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// mysqlDSN converts user:password@host:port/dbname into a go-sql-driver DSN.
func mysqlDSN(path string) (string, error) {
	u, err := url.Parse("mysql://" + path)
	if err != nil {
		return "", fmt.Errorf("db: parse mysql url: %w", err)
	}
	c := mysql.NewConfig()
	c.User = u.User.Username()
	c.Passwd, _ = u.User.Password()
	c.Net = "tcp"
	c.Addr = u.Host
	c.DBName = strings.TrimPrefix(u.Path, "/")
	c.ParseTime = true
	c.Loc = time.Local
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN(), nil
}

// Connect opens a gorm handle for a sync or async connection string.
func Connect(conn string) (*gorm.DB, error) {
	d, kind, err := dialector(conn)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", kind, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if kind == KindSQLite {
		// one writer at a time; busy_timeout covers the rest
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

func MustConnect(conn string) *gorm.DB {
	gdb, err := Connect(conn)
	if err != nil {
		logging.New("db").WithError(err).Fatal("database connect failed")
	}
	return gdb
}

func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
