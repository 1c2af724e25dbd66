// Package htest holds test helpers shared across the harbor packages.
package htest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] needed by the channel helpers,
// split out so the helpers themselves are testable.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon attempts to receive a value from ch,
// calling tb.Fatalf if the receive blocks for a reasonable default timeout.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout attempts to receive a value from ch within the given timeout.
// Most tests should use [ReceiveSoon];
// reserve ReceiveOrTimeout for cases that genuinely need a different timeout.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked receiving from channel %T %v; if this is flaky on only one machine, set HARBOR_TEST_TIME_FACTOR greater than the current value of %d",
			ch, ch, TimeFactor,
		)
		// tb.Fatalf normally stops the goroutine, but tb may be a mock in tests;
		// panic to avoid needing a return value here.
		panic("unreachable")
	case x := <-ch:
		return x
	}
}

// SendSoon attempts to send x to ch,
// calling tb.Fatalf if the send blocks for a reasonable default timeout.
func SendSoon[T any](tb TestingFatalHelper, ch chan<- T, x T) {
	tb.Helper()
	SendOrTimeout(tb, ch, x, ScaleMs(100))
}

// SendOrTimeout attempts to send x to ch within the given timeout.
// Most tests should use [SendSoon].
func SendOrTimeout[T any](tb TestingFatalHelper, ch chan<- T, x T, timeout ScaledDuration) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking send to nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked sending to channel %T %v; if this is flaky on only one machine, set HARBOR_TEST_TIME_FACTOR greater than the current value of %d",
			ch, ch, TimeFactor,
		)
		panic("unreachable")
	case ch <- x:
		// Done.
	}
}

// NotSending asserts that no value is currently ready on ch,
// without blocking beyond an immediate poll.
func NotSending[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	select {
	case x := <-ch:
		tb.Fatalf("expected no send on channel %T %v, but received %v", ch, ch, x)
	default:
		// Good.
	}
}

// IsSending asserts that ch currently has a value ready, and returns it.
func IsSending[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()

	select {
	case x := <-ch:
		return x
	default:
		tb.Fatalf("expected channel %T %v to have a value ready, but it did not", ch, ch)
		panic("unreachable")
	}
}
