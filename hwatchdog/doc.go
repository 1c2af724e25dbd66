// Package hwatchdog turns silent hangs into loud terminations.
//
// A Watchdog periodically signals each subsystem that opted in to
// monitoring; the subsystem answers from its main loop, proving the
// loop still runs.
// Poll frequency and jitter are chosen per subsystem, along with a
// timeout bounding the acceptable answer delay.
// Missing that timeout cancels the watchdog-derived context,
// taking the whole process down with a cause that names the
// subsystem at fault.
//
// The consensus engine opts its kernel into monitoring,
// so a stalled round (for instance a missing timer) surfaces here
// instead of hanging quietly forever.
package hwatchdog
