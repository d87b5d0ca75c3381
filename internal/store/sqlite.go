package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a SQLite store backend. Each image is a row; each color matrix is a
// row holding gonum's binary encoding of the matrix.
type DB struct {
	*sql.DB
}

// OpenDB opens (creating if needed) the SQLite database at path and applies
// the embedded migrations.
func OpenDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}
	return &DB{DB: sqlDB}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// Save replaces the persisted store with s in a single transaction.
func (db *DB) Save(ctx context.Context, s *Store) error {
	snap, err := s.snapshot()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"matrices", "images", "store_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	m := snap.Meta
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (id, store_id, version, split_dim, created_at, modified_at)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		m.ID, m.Version, m.SplitDim, m.Created, m.Modified,
	); err != nil {
		return fmt.Errorf("error writing store metadata: %w", err)
	}

	for pos, rec := range snap.Images {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO images (image_id, position) VALUES (?, ?)`, rec.ID, pos,
		); err != nil {
			return fmt.Errorf("error writing image %q: %w", rec.ID, err)
		}
		for _, c := range rec.Colors {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO matrices (image_id, color_id, data) VALUES (?, ?, ?)`,
				rec.ID, c.Color, c.Matrix,
			); err != nil {
				return fmt.Errorf("error writing %q/%q: %w", rec.ID, c.Color, err)
			}
		}
	}

	return tx.Commit()
}

// Load implements Backend.
func (db *DB) Load(ctx context.Context, splitDim int) (*Store, error) {
	var snap snapshot
	err := db.QueryRowContext(ctx,
		`SELECT store_id, version, split_dim, created_at, modified_at FROM store_meta WHERE id = 1`,
	).Scan(&snap.Meta.ID, &snap.Meta.Version, &snap.Meta.SplitDim, &snap.Meta.Created, &snap.Meta.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		return newForLoad(splitDim)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading store metadata: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT image_id FROM images ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("error reading images: %w", err)
	}
	index := make(map[string]int)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error reading images: %w", err)
		}
		index[id] = len(snap.Images)
		snap.Images = append(snap.Images, imageRecord{ID: id})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT image_id, color_id, data FROM matrices ORDER BY image_id, color_id`)
	if err != nil {
		return nil, fmt.Errorf("error reading matrices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var c colorRecord
		if err := rows.Scan(&id, &c.Color, &c.Matrix); err != nil {
			return nil, fmt.Errorf("error reading matrices: %w", err)
		}
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: matrix for unknown image %q", ErrCorruptStore, id)
		}
		snap.Images[i].Colors = append(snap.Images[i].Colors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s, err := fromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if err := checkSplit(s, splitDim); err != nil {
		return nil, err
	}
	return s, nil
}

// Close implements Backend.
func (db *DB) Close() error {
	return db.DB.Close()
}
