//go:build cgo && !purego

package bftsqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

const (
	sqliteDriverType = "sqlite3"
	sqliteBuildType  = "cgo"
)

func isPrimaryKeyConstraintError(e error) bool {
	var sErr sqlite3.Error
	if !errors.As(e, &sErr) {
		return false
	}

	return sErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
