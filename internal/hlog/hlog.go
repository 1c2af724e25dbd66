// Package hlog contains small helpers for consistent slog usage
// across the harbor subsystems.
package hlog

import (
	"fmt"
	"log/slog"
)

// HR returns a copy of log annotated with the given height and round.
// Nearly every interesting log line in the engine concerns one height-round,
// so this shorthand shows up throughout the consensus packages.
func HR(log *slog.Logger, height uint64, round uint32) *slog.Logger {
	return log.With("height", height, "round", round)
}

// HRE is like [HR] but also annotates the error.
func HRE(log *slog.Logger, height uint64, round uint32, e error) *slog.Logger {
	return log.With("height", height, "round", round, "err", e)
}

// Hex wraps a byte slice so it renders as lowercase hex in log output,
// rather than as a string with embedded escape sequences.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}
