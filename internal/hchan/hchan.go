// Package hchan contains helpers for common channel operations.
// The helpers log consistently on context cancellation,
// saving boilerplate at every select site in the kernels.
package hchan

import (
	"context"
	"log/slog"
)

// SendC sends val to out, honoring ctx cancellation.
// It reports whether the send completed;
// on cancellation it logs "Context canceled while " + during instead.
func SendC[T any](ctx context.Context, log *slog.Logger, out chan<- T, val T, during string) (sent bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+during, "cause", context.Cause(ctx))
		return false
	case out <- val:
		return true
	}
}

// RecvC receives a value from in, honoring ctx cancellation.
// On cancellation it logs "Context canceled while " + during
// and returns the zero value of T with received false.
func RecvC[T any](ctx context.Context, log *slog.Logger, in <-chan T, during string) (val T, received bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+during, "cause", context.Cause(ctx))
		return val, false
	case val := <-in:
		return val, true
	}
}

// ReqResp is the shorthand for a synchronous exchange with a kernel
// goroutine: a blocking send of reqValue to reqChan followed by a
// blocking receive from respChan.
// If ctx is canceled during either half,
// the zero value of U and false come back.
//
// reqRespType names the exchange in the cancellation log lines.
func ReqResp[T, U any](
	ctx context.Context, log *slog.Logger,
	reqChan chan<- T, reqValue T,
	respChan <-chan U,
	reqRespType string,
) (respVal U, ok bool) {
	if !SendC(ctx, log, reqChan, reqValue, "making "+reqRespType+" request") {
		return respVal, false
	}

	return RecvC(ctx, log, respChan, "receiving "+reqRespType+" response")
}
