package persistence

import (
	"context"
	"fmt"
)

// DriverMemory selects MemoryDB
const DriverMemory = "memory"

// OpenDatabase opens the relational store named by driver and applies any
// pending migrations
func OpenDatabase(ctx context.Context, driver, connectionString string, maxOpenConns int) (Database, error) {
	if driver == "" || driver == DriverMemory {
		return NewMemoryDB(), nil
	}

	store, err := NewSQLStore(driver, connectionString, maxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationManager(store).Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// OpenDocuments opens MongoDB, or an in-memory store when uri is empty
func OpenDocuments(ctx context.Context, uri, database string) (DocumentStore, error) {
	if uri == "" {
		return NewMemoryDocuments(), nil
	}
	return NewMongoStore(ctx, uri, database)
}
