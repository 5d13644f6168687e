package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/wsgraph/internal/httpretry"
)

// Options carries backend settings that do not fit in a DSN.
type Options struct {
	Token  string
	Retry  httpretry.Policy
	Logger *slog.Logger
}

// Open returns the backend selected by the DSN scheme.
func Open(ctx context.Context, dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("open store: empty dsn")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: parse dsn: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory", "mem":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "file":
		path := strings.TrimPrefix(dsn, u.Scheme+"://")
		if path == "" {
			return nil, fmt.Errorf("open store: sqlite dsn has no path")
		}
		return OpenSQLite(path)
	case "postgres", "postgresql":
		pool, err := NewPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return NewPostgresStore(pool), nil
	case "http", "https":
		return NewHTTPStore(HTTPOptions{
			URL:    dsn,
			Token:  opts.Token,
			Retry:  opts.Retry,
			Logger: opts.Logger,
		}), nil
	case "arangodb", "arango":
		return nil, fmt.Errorf("open store: direct %s access: %w", u.Scheme, ErrNotImplemented)
	default:
		return nil, fmt.Errorf("open store: unsupported scheme %q", u.Scheme)
	}
}
