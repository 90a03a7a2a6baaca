package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"time"

	"moviequiz/pkg/db"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// SQLiteCache implements Cacher on the cache table. Values are gzip-compressed at rest.
type SQLiteCache struct {
	db *db.DB
}

// NewSQLiteCache creates a new cache.
func NewSQLiteCache(d *db.DB) *SQLiteCache {
	return &SQLiteCache{db: d}
}

// GetCache returns the cached value for key. Read errors count as a miss.
func (c *SQLiteCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := c.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) || err != nil {
		return nil, false
	}

	if isGzip(val) {
		if decompressed, err := decompress(val); err == nil {
			return decompressed, true
		}
	}
	return val, true
}

// SetCache stores val under key, replacing any previous value and its age.
func (c *SQLiteCache) SetCache(ctx context.Context, key string, val []byte) error {
	if compressed, err := compress(val); err == nil {
		val = compressed
	}

	query := `INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`
	_, err := c.db.ExecContext(ctx, query, key, val, time.Now().UTC().Format("2006-01-02 15:04:05"))
	return err
}

func isGzip(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}

var (
	// Pool for gzip writers to reuse flate state
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
