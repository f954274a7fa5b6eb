/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package postgres implements storage.Store on PostgreSQL. Entities are
// persisted as a JSONB document alongside the columns queries filter and
// sort on; the document is authoritative, the columns are projections.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/neighborhood-lab/care-commons/pkg/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements storage.Store on a PostgreSQL pool.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects, verifies the connection, and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store := &Store{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db.DB, "migrations")
}

func (s *Store) Close() error { return s.db.Close() }

// marshalDoc renders the authoritative JSONB document.
func marshalDoc(entity any) ([]byte, error) {
	return json.Marshal(entity)
}

func unmarshalDoc[T any](doc []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalDocs[T any](docs [][]byte) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		entity, err := unmarshalDoc[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
