package bftsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftstore"
)

// Store is a single type satisfying both the [bftstore.CertificateStore]
// and [bftstore.ValidatorStore] interfaces, backed by sqlite.
type Store struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	ro, rw *sql.DB
}

func NewOnDiskStore(ctx context.Context, dbPath string) (*Store, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		// Create a file for the database;
		// if no file exists, then our startup pragma commands fail.
		if os.IsNotExist(err) {
			// The file did not exist so we need to create it.
			// We don't use os.Create since that will truncate an existing file;
			// O_EXCL also fails cleanly if another process creates it first.
			f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return nil, fmt.Errorf("failed to create empty database file: %w", err)
			}
			if err := f.Close(); err != nil {
				return nil, fmt.Errorf("failed to close new empty database file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}
	}

	// In contrast to the in-memory store,
	// we only have to mark this connection mode as read-write.
	// In combination with the SetMaxOpenConns(1) call,
	// this allows only a single writer at a time;
	// instead of other writers getting an ephemeral "table is locked"
	// or "database is locked" error, they will simply block
	// while contending for the single available connection.
	uri := "file:" + dbPath + "?mode=rw"

	// The driver type comes from the sqlitedriver_*.go file
	// chosen based on build tags.
	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	rw.SetMaxOpenConns(1)

	// Unlike other pragmas, this is persistent,
	// and it is only relevant to on-disk databases.
	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	// Change mode=rw to mode=ro (since we know that was the final query parameter).
	uri = uri[:len(uri)-1] + "o"
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}
	if err := pragmasRO(ctx, ro); err != nil {
		return nil, err
	}

	return &Store{
		BuildType: sqliteBuildType,

		ro: ro, rw: rw,
	}, nil
}

var inMemNameCounter uint32

func NewInMemStore(ctx context.Context) (*Store, error) {
	dbName := fmt.Sprintf("db%0000d", atomic.AddUint32(&inMemNameCounter, 1))
	uri := "file:" + dbName +
		// Give the "file" a unique name so that multiple connections within one process
		// can use the same in-memory database.
		// Standard query parameter: https://www.sqlite.org/uri.html#recognized_query_parameters
		"?mode=memory" +
		// The cache can only be shared or private.
		// A private cache means every connection would see a unique database,
		// so this must be shared.
		"&cache=shared" +
		// Both SQLite wrappers support _txlock.
		// Immediate effectively takes a write lock on the database
		// at the beginning of every transaction.
		// https://www.sqlite.org/lang_transaction.html#deferred_immediate_and_exclusive_transactions
		"&_txlock=immediate"

	// The driver type comes from the sqlitedriver_*.go file
	// chosen based on build tags.
	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	// Without limiting it to one open connection,
	// we would get frequent "table is locked" errors.
	// These errors, as far as I can tell,
	// do not automatically resolve with the busy timeout handler.
	// So, only allow one active write connection to the database at a time.
	rw.SetMaxOpenConns(1)

	// We don't set journal mode to WAL with the in-memory store,
	// like we do at this point in the on-disk store.

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	// It would be nice if there was a way to mark this connection as read-only,
	// but that does not appear possible with the drivers available
	// (you have to connect to an on-disk database for that).
	// We use an identical connection URI except for removing the txlock directive.
	var ok bool
	uri, ok = strings.CutSuffix(uri, "&_txlock=immediate")
	if !ok {
		panic(fmt.Errorf("BUG: failed to cut _txlock suffix from uri %q", uri))
	}
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}
	if err := pragmasRO(ctx, ro); err != nil {
		return nil, err
	}

	return &Store{
		BuildType: sqliteBuildType,

		ro: ro, rw: rw,
	}, nil
}

func (s *Store) Close() error {
	errRO := s.ro.Close()
	if errRO != nil {
		errRO = fmt.Errorf("error closing read-only database: %w", errRO)
	}
	errRW := s.rw.Close()
	if errRW != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", errRW)
	}

	return errors.Join(errRO, errRW)
}

func pragmasRW(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRW").End()

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}

	// https://www.sqlite.org/lang_analyze.html#periodically_run_pragma_optimize_
	// "Applications that use long-lived database connections should run `PRAGMA optimize=0x10002;`
	// when the connection is first opened,
	// and then also run `PRAGMA optimize;` periodically,
	// perhaps once per day, or more if the database is evolving rapidly."
	if _, err := db.ExecContext(ctx, `PRAGMA optimize(0x10002);`); err != nil {
		return fmt.Errorf("failed to run startup PRAGMA optimize: %w", err)
	}

	return nil
}

func pragmasRO(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRO").End()

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}

	// Skip PRAGMA optimize for the read-only pragmas.

	return nil
}

func (s *Store) SaveCertificate(ctx context.Context, cert bftcore.CommitCertificate) error {
	defer trace.StartRegion(ctx, "SaveCertificate").End()

	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO certificates(height, round, block_hash, commit_power) VALUES(?, ?, ?, ?)`,
		cert.Height, cert.Round, cert.BlockHash, cert.CommitPower,
	); err != nil {
		if isPrimaryKeyConstraintError(err) {
			return bftstore.CertificateOverwriteError{Height: cert.Height}
		}
		return fmt.Errorf("failed to insert certificate: %w", err)
	}

	for i, v := range cert.Precommits {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO certificate_precommits(height, ord, validator_id, power) VALUES(?, ?, ?, ?)`,
			cert.Height, i, v.ValidatorID, v.Power,
		); err != nil {
			return fmt.Errorf("failed to insert certificate precommit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Store) LoadCertificate(ctx context.Context, height uint64) (bftcore.CommitCertificate, error) {
	defer trace.StartRegion(ctx, "LoadCertificate").End()

	cert := bftcore.CommitCertificate{
		Height: height,
	}

	if err := s.ro.QueryRowContext(
		ctx,
		`SELECT round, block_hash, commit_power FROM certificates WHERE height = ?`,
		height,
	).Scan(&cert.Round, &cert.BlockHash, &cert.CommitPower); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bftcore.CommitCertificate{}, bftstore.HeightUnknownError{Want: height}
		}
		return bftcore.CommitCertificate{}, fmt.Errorf("failed to scan certificate: %w", err)
	}

	rows, err := s.ro.QueryContext(
		ctx,
		`SELECT validator_id, power FROM certificate_precommits WHERE height = ? ORDER BY ord`,
		height,
	)
	if err != nil {
		return bftcore.CommitCertificate{}, fmt.Errorf("failed to query certificate precommits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		// The scope and target are implied by the certificate row.
		v := bftcore.Vote{
			Height: cert.Height,
			Round:  cert.Round,

			Phase: bftcore.PhasePrecommit,

			BlockHash: cert.BlockHash,
		}
		if err := rows.Scan(&v.ValidatorID, &v.Power); err != nil {
			return bftcore.CommitCertificate{}, fmt.Errorf("failed to scan certificate precommit: %w", err)
		}
		cert.Precommits = append(cert.Precommits, v)
	}
	if err := rows.Err(); err != nil {
		return bftcore.CommitCertificate{}, fmt.Errorf("failure iterating certificate precommits: %w", err)
	}

	return cert, nil
}

func (s *Store) NetworkHeight(ctx context.Context) (uint64, error) {
	defer trace.StartRegion(ctx, "NetworkHeight").End()

	var h sql.NullInt64
	if err := s.ro.QueryRowContext(
		ctx,
		`SELECT MAX(height) FROM certificates`,
	).Scan(&h); err != nil {
		return 0, fmt.Errorf("failed to scan network height: %w", err)
	}

	if !h.Valid {
		return 0, bftstore.ErrStoreUninitialized
	}

	return uint64(h.Int64), nil
}

func (s *Store) SaveValidatorSet(ctx context.Context, height uint64, vals []bftcore.Validator) error {
	defer trace.StartRegion(ctx, "SaveValidatorSet").End()

	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO validator_sets(height) VALUES(?)`,
		height,
	); err != nil {
		if isPrimaryKeyConstraintError(err) {
			return bftstore.ValidatorSetOverwriteError{Height: height}
		}
		return fmt.Errorf("failed to insert validator set: %w", err)
	}

	for i, v := range vals {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO validator_set_members(height, ord, validator_id, power) VALUES(?, ?, ?, ?)`,
			height, i, v.ID, v.Power,
		); err != nil {
			return fmt.Errorf("failed to insert validator set member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Store) LoadValidatorSet(ctx context.Context, height uint64) ([]bftcore.Validator, error) {
	defer trace.StartRegion(ctx, "LoadValidatorSet").End()

	var exists bool
	if err := s.ro.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM validator_sets WHERE height = ?)`,
		height,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check validator set existence: %w", err)
	}
	if !exists {
		return nil, bftstore.HeightUnknownError{Want: height}
	}

	rows, err := s.ro.QueryContext(
		ctx,
		`SELECT validator_id, power FROM validator_set_members WHERE height = ? ORDER BY ord`,
		height,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query validator set members: %w", err)
	}
	defer rows.Close()

	var vals []bftcore.Validator
	for rows.Next() {
		// Membership only; priorities and liveness are runtime state.
		v := bftcore.Validator{Online: true}
		if err := rows.Scan(&v.ID, &v.Power); err != nil {
			return nil, fmt.Errorf("failed to scan validator set member: %w", err)
		}
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failure iterating validator set members: %w", err)
	}

	return vals, nil
}
