package htest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a *slog.Logger that writes through t.Log.
//
// slogt has been stable and effective for adapting slog to testing.T;
// keeping it behind this helper means tests depend on htest,
// not directly on the external module.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t, slogt.Text())
}
