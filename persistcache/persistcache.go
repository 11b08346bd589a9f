// Package persistcache is the optional disk-backed persistence layer for
// the fetch cache, so fetched package metadata and tarballs can survive
// process restarts under a single named store. The three-backend
// (sqlite/rqlite/postgres) kv.Store construction switch persists
// serialized fetchcache.Response values instead of package metadata.
package persistcache

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	rqlitehttp "github.com/rqlite/rqlite-go-http"

	"github.com/a-h/kv"
	"github.com/a-h/kv/postgreskv"
	"github.com/a-h/kv/rqlitekv"
	"github.com/a-h/kv/sqlitekv"
	"github.com/jackc/pgx/v5/pgxpool"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/a-h/modresolve/fetchcache"
)

// New constructs a kv.Store-backed persistence layer for the named
// database type ("sqlite", "rqlite", "postgres") and DSN/URL.
func New(ctx context.Context, dbType, dsn string) (store kv.Store, closer func() error, err error) {
	switch dbType {
	case "sqlite":
		store, closer, err = newSqliteStore(dsn)
	case "rqlite":
		store, closer, err = newRqliteStore(dsn)
	case "postgres":
		store, closer, err = newPostgresStore(dsn)
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, nil, err
	}
	if err = store.Init(ctx); err != nil {
		_ = closer()
		return nil, nil, err
	}
	return store, closer, nil
}

func newSqliteStore(dsn string) (store kv.Store, closer func() error, err error) {
	dsnURI, err := url.Parse(dsn)
	if err != nil {
		return nil, nil, err
	}
	opts := sqlitex.PoolOptions{
		Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI,
	}
	// WAL doesn't work well with container volumes; only enable it when
	// the DSN asks for it explicitly.
	journalMode := dsnURI.Query().Get("_journal_mode")
	if strings.EqualFold(journalMode, "wal") {
		opts.Flags |= sqlite.OpenWAL
	}
	pool, err := sqlitex.NewPool(dsn, opts)
	if err != nil {
		return nil, nil, err
	}
	store = sqlitekv.NewStore(pool)
	return store, pool.Close, nil
}

func newRqliteStore(dsn string) (store kv.Store, closer func() error, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, nil, err
	}
	client := rqlitehttp.NewClient(dsn, nil)
	if u.User != nil {
		pwd, _ := u.User.Password()
		client.SetBasicAuth(u.User.Username(), pwd)
	}
	store = rqlitekv.NewStore(client)
	return store, func() error { return nil }, nil
}

func newPostgresStore(dsn string) (store kv.Store, closer func() error, err error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, nil, err
	}
	store = postgreskv.NewStore(pool)
	closer = func() error {
		pool.Close()
		return nil
	}
	return store, closer, nil
}

// Store wraps a kv.Store to persist fetchcache.Response values keyed by
// final URL, the durable half of stale-while-revalidate: on process
// restart, fetchcache.Cache can seed its in-memory LRU from here instead
// of starting cold.
type Store struct {
	store kv.Store
}

// NewResponseStore wraps an already-constructed kv.Store.
func NewResponseStore(store kv.Store) *Store {
	return &Store{store: store}
}

func responseKey(finalURL string) string {
	return path.Join("/fetchcache", url.PathEscape(finalURL))
}

// Get retrieves a persisted response for finalURL.
func (s *Store) Get(ctx context.Context, finalURL string) (resp *fetchcache.Response, ok bool, err error) {
	var r fetchcache.Response
	_, ok, err = s.store.Get(ctx, responseKey(finalURL), &r)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &r, true, nil
}

// Put persists resp keyed by its own FinalURL.
func (s *Store) Put(ctx context.Context, resp *fetchcache.Response) error {
	return s.store.Put(ctx, responseKey(resp.FinalURL), -1, resp)
}

// Delete removes a persisted response, e.g. after a terminal refresh
// failure makes the cached copy suspect.
func (s *Store) Delete(ctx context.Context, finalURL string) error {
	_, err := s.store.Delete(ctx, responseKey(finalURL))
	return err
}
