package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/suPer8Hu/podflix/internal/config"
)

type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindMySQL  Kind = "mysql"
)

// asyncDriver tags connection strings for the pooled request-path engine.
const asyncDriver = "gorm"

var ErrUnknownKind = errors.New("db: unknown database kind")

// Descriptor identifies one database and renders its connection strings.
// Exactly one kind is active per descriptor.
type Descriptor struct {
	Kind Kind

	// sqlite
	Path string

	// mysql
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	URL      string
}

type Options struct {
	Kind     Kind
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	URL      string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Kind:     Kind(cfg.DBType),
		Path:     cfg.DBPath,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Name:     cfg.DBName,
		URL:      cfg.DBURL,
	}
}

// NewDescriptor builds a descriptor. For sqlite the parent directory of the
// database file is created when missing.
func NewDescriptor(o Options) (*Descriptor, error) {
	switch o.Kind {
	case KindSQLite:
		path := o.Path
		if path == "" {
			path = "db.sqlite"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("db: create sqlite directory: %w", err)
		}
		return &Descriptor{Kind: KindSQLite, Path: path}, nil
	case KindMySQL:
		port := o.Port
		if port == 0 {
			port = 3306
		}
		return &Descriptor{
			Kind:     KindMySQL,
			Host:     o.Host,
			Port:     port,
			User:     o.User,
			Password: o.Password,
			Name:     o.Name,
			URL:      o.URL,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q, must be either 'sqlite' or 'mysql'", ErrUnknownKind, o.Kind)
	}
}

// ConnectionPath is the driver-agnostic part of the connection string: the
// file path for sqlite, user:password@host:port/dbname for mysql.
func (d *Descriptor) ConnectionPath() string {
	if d.Kind == KindSQLite {
		return d.Path
	}
	if d.URL != "" {
		return stripScheme(d.URL)
	}
	return d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name
}

// SyncConnectionString is used by blocking maintenance work (schema manager).
func (d *Descriptor) SyncConnectionString() string {
	return d.render(string(d.Kind))
}

// AsyncConnectionString is used by the pooled engine serving chat requests.
func (d *Descriptor) AsyncConnectionString() string {
	return d.render(string(d.Kind) + "+" + asyncDriver)
}

func (d *Descriptor) render(scheme string) string {
	if d.Kind == KindSQLite {
		return scheme + ":///" + d.ConnectionPath()
	}
	return scheme + "://" + d.ConnectionPath()
}

func stripScheme(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[i+3:]
	}
	return u
}

// Factory hands out one descriptor for its lifetime. The first successful
// Create is cached and returned on every later call, whatever the options.
type Factory struct {
	mu   sync.Mutex
	desc *Descriptor
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(o Options) (*Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.desc != nil {
		return f.desc, nil
	}
	d, err := NewDescriptor(o)
	if err != nil {
		return nil, err
	}
	f.desc = d
	return d, nil
}
