package bftsqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS migrations(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  version INTEGER
);`,
	); err != nil {
		return fmt.Errorf("error getting initial migrations table: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO migrations(id, version) VALUES (0, 0)`,
	); err != nil {
		return fmt.Errorf("error setting initial migration version: %w", err)
	}

	var migrationVersion int
	if err := tx.QueryRowContext(
		ctx, `SELECT version FROM migrations WHERE id=0;`,
	).Scan(&migrationVersion); err != nil {
		return fmt.Errorf("failed to scan migration version: %w", err)
	}

	if err := migrateFrom(ctx, tx, migrationVersion); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

func migrateFrom(ctx context.Context, tx *sql.Tx, version int) error {
	switch version {
	case 0:
		if err := migrateInitial(ctx, tx); err != nil {
			return fmt.Errorf("initial migration: %w", err)
		}
		if err := setMigrationVersion(ctx, tx, 1); err != nil {
			return err
		}
	case 1:
		// Up to date.
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}

	// If we didn't return inside the above switch statement,
	// then we did something with migrations.
	// According to https://sqlite.org/pragma.html#pragma_optimize,
	// "All applications should run `PRAGMA optimize;` after a schema change,
	// especially after one or more CREATE INDEX statements."
	// Creating tables is a schema change, so here we go.
	if _, err := tx.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to run PRAGMA optimize after migration: %w", err)
	}

	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(
		ctx,
		// One commit certificate per height; the height is the natural key.
		// The round and commit power are denormalized from the precommits
		// so a verifier can read the certificate row on its own.
		`
CREATE TABLE certificates(
  height INTEGER PRIMARY KEY NOT NULL,
  round INTEGER NOT NULL,
  block_hash TEXT NOT NULL CHECK(octet_length(block_hash) > 0),
  commit_power INTEGER NOT NULL
);`+

			// The precommits backing each certificate, in original order.
			// Height, round, phase, and target are implied by the
			// certificate row, so only the signer and its power are stored.
			`
CREATE TABLE certificate_precommits(
  height INTEGER NOT NULL REFERENCES certificates(height),
  ord INTEGER NOT NULL,
  validator_id TEXT NOT NULL CHECK(octet_length(validator_id) > 0),
  power INTEGER NOT NULL CHECK(power > 0),
  PRIMARY KEY (height, ord)
);`+

			// One membership record per height.
			// The bare row lets a lookup distinguish
			// "height not recorded" from "no members",
			// although a recorded set is never empty in practice.
			`
CREATE TABLE validator_sets(
  height INTEGER PRIMARY KEY NOT NULL
);`+

			// Membership is ID and power only;
			// proposer priorities and liveness are runtime state.
			`
CREATE TABLE validator_set_members(
  height INTEGER NOT NULL REFERENCES validator_sets(height),
  ord INTEGER NOT NULL,
  validator_id TEXT NOT NULL CHECK(octet_length(validator_id) > 0),
  power INTEGER NOT NULL CHECK(power > 0),
  PRIMARY KEY (height, ord)
);`,
	)
	if err != nil {
		return fmt.Errorf("failed to run initial migration: %w", err)
	}

	return nil
}

func setMigrationVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE migrations SET version = ? WHERE id = 0`,
		version,
	); err != nil {
		return fmt.Errorf("failed to set migration version to %d: %w", version, err)
	}

	return nil
}
