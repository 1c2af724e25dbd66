package bmetrics

import (
	"context"
	"fmt"
	"log/slog"
)

// Metrics is the set of metrics for an engine.
// This type is declared here, but aliased in [bftengine].
type Metrics struct {
	VotingHeight uint64
	VotingRound  uint32

	CommittedHeight uint64
	CommittedRound  uint32
}

func (m Metrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("voting_hr", fmt.Sprintf("%d/%d", m.VotingHeight, m.VotingRound)),

		slog.String("committed_hr", fmt.Sprintf("%d/%d", m.CommittedHeight, m.CommittedRound)),
	)
}

// RoundMetrics is the state machine's active position,
// reported every time it enters a round.
type RoundMetrics struct {
	H uint64
	R uint32
}

// CommitMetrics is the most recent commit,
// reported when a certificate is assembled.
type CommitMetrics struct {
	H uint64
	R uint32
}

type Collector struct {
	rCh chan RoundMetrics
	cCh chan CommitMetrics

	outCh chan<- Metrics

	done chan struct{}
}

func NewCollector(ctx context.Context, bufSize int, outCh chan<- Metrics) *Collector {
	c := &Collector{
		rCh: make(chan RoundMetrics, bufSize),
		cCh: make(chan CommitMetrics, bufSize),

		outCh: outCh,

		done: make(chan struct{}),
	}
	go c.background(ctx)
	return c
}

// UpdateRound never blocks;
// an update is dropped if the collector is saturated.
func (c *Collector) UpdateRound(m RoundMetrics) {
	select {
	case c.rCh <- m:
	default:
	}
}

// UpdateCommit never blocks;
// an update is dropped if the collector is saturated.
func (c *Collector) UpdateCommit(m CommitMetrics) {
	select {
	case c.cCh <- m:
	default:
	}
}

func (c *Collector) Wait() {
	<-c.done
}

func (c *Collector) background(ctx context.Context) {
	defer close(c.done)

	var cur Metrics

	var gotR, gotC, outdated bool
	for {
		// Don't attempt to send the output until
		// both the round position and the commit baseline are known.
		var outCh chan<- Metrics
		if gotR && gotC && outdated {
			outCh = c.outCh
		}

		select {
		case <-ctx.Done():
			return

		case r := <-c.rCh:
			cur.VotingHeight = r.H
			cur.VotingRound = r.R

			gotR = true
			outdated = true

		case cm := <-c.cCh:
			cur.CommittedHeight = cm.H
			cur.CommittedRound = cm.R

			gotC = true
			outdated = true

		case outCh <- cur:
			// Okay.
			outdated = false
		}
	}
}
