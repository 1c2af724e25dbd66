package bftgossip

import (
	"context"
	"log/slog"
	"runtime/trace"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/internal/hchan"
)

// ChattyStrategy is a naive [Strategy] that
// broadcasts every new proposal and vote on the network.
//
// This should not be used in production,
// as it is totally inefficient in terms of bandwidth.
type ChattyStrategy struct {
	log *slog.Logger

	b Broadcaster

	startCh    chan (<-chan RoundUpdate)
	kernelDone chan struct{}
}

func NewChattyStrategy(
	ctx context.Context,
	log *slog.Logger,
	b Broadcaster,
) *ChattyStrategy {
	s := &ChattyStrategy{
		log: log,

		b: b,

		startCh:    make(chan (<-chan RoundUpdate), 1),
		kernelDone: make(chan struct{}),
	}

	go s.kernel(ctx)
	return s
}

func (s *ChattyStrategy) Wait() {
	<-s.kernelDone
}

func (s *ChattyStrategy) Start(updates <-chan RoundUpdate) {
	s.startCh <- updates
	close(s.startCh)
}

func (s *ChattyStrategy) kernel(ctx context.Context) {
	defer close(s.kernelDone)

	ctx, task := trace.NewTask(ctx, "ChattyStrategy.kernel")
	defer task.End()

	// Block for the start signal.
	updates, ok := hchan.RecvC(
		ctx, s.log,
		s.startCh,
		"waiting for start signal",
	)
	if !ok {
		// Already logged in RecvC.
		return
	}

	// Track what has already been sent for the current round,
	// so redundancy stays bounded to one send per message.
	var cur struct {
		height uint64
		round  uint32

		sentProposal bool

		sentPrevotes, sentPrecommits int
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info(
				"Quitting due to context cancellation",
				"cause", context.Cause(ctx),
			)
			return
		case u := <-updates:
			if u.Height != cur.height || u.Round != cur.round {
				cur.height = u.Height
				cur.round = u.Round
				cur.sentProposal = false
				cur.sentPrevotes = 0
				cur.sentPrecommits = 0
			}

			if u.Proposal != nil && !cur.sentProposal {
				if !hchan.SendC(
					ctx, s.log,
					s.b.OutgoingProposals(), *u.Proposal,
					"sending proposal",
				) {
					return
				}
				cur.sentProposal = true
			}

			if !s.broadcastNewVotes(ctx, u.Prevotes, &cur.sentPrevotes) {
				return
			}
			if !s.broadcastNewVotes(ctx, u.Precommits, &cur.sentPrecommits) {
				return
			}
		}
	}
}

func (s *ChattyStrategy) broadcastNewVotes(ctx context.Context, votes []bftcore.Vote, sent *int) bool {
	// Snapshots only append within a round,
	// so everything past the sent marker is new.
	for _, v := range votes[*sent:] {
		if !hchan.SendC(
			ctx, s.log,
			s.b.OutgoingVotes(), v,
			"sending vote",
		) {
			return false
		}
		*sent++
	}

	return true
}
