package orm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
)

// DefaultDBAlias is the alias used when no router expresses a preference.
const DefaultDBAlias = "default"

// Connections maps database aliases to open handles.
type Connections struct {
	mu  sync.RWMutex
	dbs map[string]*sqlx.DB
}

func NewConnections() *Connections {
	return &Connections{dbs: make(map[string]*sqlx.DB)}
}

// Add registers an existing handle under alias, replacing any previous one.
func (c *Connections) Add(alias string, db *sqlx.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dbs[alias] = db
}

// Open connects to dsn with driverName and registers the handle under alias.
func (c *Connections) Open(alias, driverName, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", alias, err)
	}
	c.Add(alias, db)
	return db, nil
}

// Get returns the handle for alias.
func (c *Connections) Get(alias string) (*sqlx.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[alias]
	if !ok {
		return nil, newError("connection", "", ErrImproperlyConfigured, "The connection %q doesn't exist", alias)
	}
	return db, nil
}

// Aliases returns the registered aliases in sorted order.
func (c *Connections) Aliases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	aliases := make([]string, 0, len(c.dbs))
	for alias := range c.dbs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Close closes every handle.
func (c *Connections) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for alias, db := range c.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", alias, err))
		}
	}
	c.dbs = make(map[string]*sqlx.DB)
	return errors.Join(errs...)
}

// executor returns the transaction bound to ctx for alias, or the plain handle.
func (c *Connections) executor(ctx context.Context, alias string) (DBExecutor, error) {
	if tx := txFromContext(ctx, alias); tx != nil {
		return tx, nil
	}
	return c.Get(alias)
}
