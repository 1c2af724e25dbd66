package htest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor is a multiplier controlled by the
// HARBOR_TEST_TIME_FACTOR environment variable,
// to stretch test-related timeouts.
//
// A flat 100ms timeout is enough on a workstation
// but may not be on a contended CI machine.
// Rather than editing tests, the operator sets e.g. HARBOR_TEST_TIME_FACTOR=3
// to triple every timeout that goes through [ScaleMs].
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("HARBOR_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse HARBOR_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("HARBOR_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

type ScaledDuration time.Duration

// ScaleMs returns ms in milliseconds, multiplied by [TimeFactor].
//
// The channel helpers accept ScaledDuration instead of time.Duration
// to keep literal timeouts out of tests,
// since those cause flakes on slower machines.
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// Sleep calls [time.Sleep] with the given scaled duration.
func Sleep(dur ScaledDuration) {
	time.Sleep(time.Duration(dur))
}
