package hcli

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftdebug"
	"github.com/harbor-bft/harbor/bft/bftdriver"
	"github.com/harbor-bft/harbor/bft/bftengine"
	"github.com/harbor-bft/harbor/bft/bftgossip"
	"github.com/harbor-bft/harbor/bft/bftstore"
	"github.com/harbor-bft/harbor/bft/bftstore/bftmemstore"
	"github.com/harbor-bft/harbor/hwatchdog"
)

func newSimCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "sim",

		Short: "Run an in-process simulation of a validator network",

		Long: `sim runs every validator of a small consensus network inside one process,
connected through an in-memory loopback instead of a real transport.

Each validator gets its own engine, gossip strategy and driver;
the simulation stops once any validator commits the target height.
`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			var cfg simConfig
			var err error
			nVals, err := flags.GetInt("validators")
			if err != nil {
				return err
			}
			powers, err := flags.GetUintSlice("powers")
			if err != nil {
				return err
			}
			cfg.TargetHeight, err = flags.GetUint64("target-height")
			if err != nil {
				return err
			}
			cfg.Timeouts, err = flags.GetString("timeouts")
			if err != nil {
				return err
			}
			cfg.TimeoutBase, err = flags.GetDuration("timeout-base")
			if err != nil {
				return err
			}
			cfg.HTTPAddr, err = flags.GetString("http-addr")
			if err != nil {
				return err
			}
			cfg.AssertOpt, err = getAssertEngineOpt(flags)
			if err != nil {
				return err
			}

			if len(powers) > 0 {
				cfg.Powers = make([]uint64, len(powers))
				for i, p := range powers {
					cfg.Powers[i] = uint64(p)
				}
			} else {
				// Uneven default powers so proposer rotation
				// is visibly weighted.
				cfg.Powers = make([]uint64, nVals)
				for i := range cfg.Powers {
					cfg.Powers[i] = uint64(100 - 10*(i%4))
				}
			}

			return runSim(cmd.Context(), log, cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntP("validators", "n", 4, "Number of validators in the network; ignored when --powers is given")
	flags.UintSlice("powers", nil, "Per-validator voting powers; overrides --validators")
	flags.Uint64("target-height", 10, "Height to run the network to before shutting down")
	flags.String("timeouts", "linear", "Timeout strategy: fixed, linear, or exponential")
	flags.Duration("timeout-base", time.Second, "Base duration for the chosen timeout strategy")
	flags.String("http-addr", "", "TCP address for a diagnostics HTTP server against the first validator; if blank, server will not be started")

	// Adds --assert-rules in debug builds, no-op otherwise.
	addAssertRuleFlag(flags)

	return cmd
}

type simConfig struct {
	Powers []uint64

	TargetHeight uint64

	Timeouts    string
	TimeoutBase time.Duration

	HTTPAddr string

	// From the assert-rules flag.
	// Debug builds must provide it or round assertions panic on a nil env.
	AssertOpt bftengine.Opt
}

// simNode is one validator in the loopback network.
// Its outgoing channels satisfy [bftgossip.Broadcaster]
// for the node's own gossip strategy.
type simNode struct {
	ID string

	Engine *bftengine.Engine

	CertStore bftstore.CertificateStore
	ValStore  bftstore.ValidatorStore

	proposalsOut chan bftcore.Proposal
	votesOut     chan bftcore.Vote
}

func (n *simNode) OutgoingProposals() chan<- bftcore.Proposal { return n.proposalsOut }
func (n *simNode) OutgoingVotes() chan<- bftcore.Vote         { return n.votesOut }

func runSim(ctx context.Context, log *slog.Logger, cfg simConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ts, err := simTimeoutStrategy(cfg)
	if err != nil {
		return err
	}

	vals := simValidators(cfg.Powers)
	log.Info("Starting simulation", "validators", len(vals), "target_height", cfg.TargetHeight)

	reached := make(chan string, 1)

	nodes := make([]*simNode, len(vals))
	for i, val := range vals {
		nlog := log.With("node", val.ID)

		wd, wCtx := hwatchdog.NewWatchdog(ctx, nlog.With("sys", "watchdog"))

		n := &simNode{
			ID: val.ID,

			CertStore: bftmemstore.NewCertificateStore(),
			ValStore:  bftmemstore.NewValidatorStore(),

			proposalsOut: make(chan bftcore.Proposal, 8),
			votesOut:     make(chan bftcore.Vote, 32),
		}

		gs := bftgossip.NewChattyStrategy(wCtx, nlog.With("sys", "chattygossip"), n)

		buildCh := make(chan bftdriver.BuildBlockRequest, 1)
		applyCh := make(chan bftdriver.ApplyBlockRequest, 1)

		opts := []bftengine.Opt{
			bftengine.WithGossipStrategy(gs),

			bftengine.WithCertificateStore(n.CertStore),
			bftengine.WithValidatorStore(n.ValStore),

			bftengine.WithSelfID(val.ID),
			bftengine.WithInitialHeight(1),
			// Each engine mutates proposer priorities on its own copy.
			bftengine.WithValidators(slices.Clone(vals)),

			bftengine.WithBlockBuildChannel(buildCh),
			bftengine.WithBlockApplyChannel(applyCh),

			bftengine.WithTimeoutStrategy(wCtx, ts),
			bftengine.WithWatchdog(wd),
		}

		if cfg.AssertOpt != nil {
			opts = append(opts, cfg.AssertOpt)
		}

		if i == 0 {
			metricsCh := make(chan bftengine.Metrics)
			go simDrainMetrics(wCtx, nlog.With("sys", "metrics"), metricsCh)
			opts = append(opts, bftengine.WithMetricsChannel(metricsCh))
		}

		e, err := bftengine.New(wCtx, nlog.With("sys", "engine"), opts...)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to start engine for %s: %w", val.ID, err)
		}
		n.Engine = e
		defer e.Wait()

		go runSimDriver(wCtx, nlog.With("sys", "driver"), val.ID, buildCh, applyCh, cfg.TargetHeight, reached)

		nodes[i] = n
	}

	for i := range nodes {
		go runSimRelay(ctx, nodes, i)
	}

	if cfg.HTTPAddr != "" {
		ln, err := new(net.ListenConfig).Listen(ctx, "tcp", cfg.HTTPAddr)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
		}
		log.Info("Diagnostics HTTP server listening", "addr", ln.Addr().String())

		h := bftdebug.NewHTTPServer(ctx, log.With("sys", "http"), bftdebug.HTTPServerConfig{
			Listener: ln,

			CertificateStore: nodes[0].CertStore,
			ValidatorStore:   nodes[0].ValStore,

			Engine: nodes[0].Engine,
		})
		defer h.Wait()
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case id := <-reached:
		log.Info("Target height committed, shutting down", "node", id, "height", cfg.TargetHeight)
	}

	cancel()
	return nil
}

func simTimeoutStrategy(cfg simConfig) (bftengine.TimeoutStrategy, error) {
	base := cfg.TimeoutBase
	switch cfg.Timeouts {
	case "fixed":
		return bftengine.FixedTimeoutStrategy{
			Proposal:   base,
			Prevote:    base,
			Precommit:  base,
			CommitWait: base / 4,
		}, nil
	case "linear":
		return bftengine.LinearTimeoutStrategy{
			ProposalBase:      base,
			ProposalIncrement: base / 4,

			PrevoteBase:      base,
			PrevoteIncrement: base / 4,

			PrecommitBase:      base,
			PrecommitIncrement: base / 4,

			CommitWaitBase: base / 4,
		}, nil
	case "exponential":
		return bftengine.ExponentialTimeoutStrategy{
			ProposalBase:   base,
			PrevoteBase:    base,
			PrecommitBase:  base,
			CommitWaitBase: base / 4,
		}, nil
	default:
		return nil, fmt.Errorf("unknown timeout strategy %q (want fixed, linear, or exponential)", cfg.Timeouts)
	}
}

// simValidators assigns each power a generated two-word validator ID.
func simValidators(powers []uint64) []bftcore.Validator {
	petname.NonDeterministicMode()

	vals := make([]bftcore.Validator, len(powers))
	seen := make(map[string]bool, len(powers))
	for i, p := range powers {
		id := petname.Generate(2, "-")
		for seen[id] {
			id = petname.Generate(2, "-")
		}
		seen[id] = true

		vals[i] = bftcore.Validator{
			ID:     id,
			Power:  p,
			Online: true,
		}
	}
	return vals
}

// runSimDriver is the application side of one validator:
// it answers block build requests with a synthetic block
// and acknowledges applied blocks.
func runSimDriver(
	ctx context.Context,
	log *slog.Logger,
	id string,
	buildCh <-chan bftdriver.BuildBlockRequest,
	applyCh <-chan bftdriver.ApplyBlockRequest,
	targetHeight uint64,
	reached chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-buildCh:
			hash := simBlockHash(id, req.Height, req.Round)
			log.Info("Proposing block", "height", req.Height, "round", req.Round, "hash", hash)

			req.Resp <- bftdriver.BuildBlockResponse{
				Block: bftcore.BlockRef{
					Hash:   hash,
					Handle: fmt.Sprintf("proposed by %s", id),
				},
			}

		case req := <-applyCh:
			log.Info(
				"Committed block",
				"height", req.Cert.Height,
				"round", req.Cert.Round,
				"hash", req.Cert.BlockHash,
				"commit_power", req.Cert.CommitPower,
			)

			req.Resp <- bftdriver.ApplyBlockResponse{
				Height:    req.Cert.Height,
				BlockHash: req.Cert.BlockHash,
			}

			if req.Cert.Height >= targetHeight {
				select {
				case reached <- id:
				default:
					// Another node already reported the target.
				}
			}
		}
	}
}

// runSimRelay drains node i's outgoing gossip channels
// and delivers every message to every other node's engine.
func runSimRelay(ctx context.Context, nodes []*simNode, i int) {
	n := nodes[i]
	for {
		select {
		case <-ctx.Done():
			return

		case p := <-n.proposalsOut:
			for j, other := range nodes {
				if j == i {
					continue
				}
				_ = other.Engine.HandleProposal(ctx, p)
			}

		case v := <-n.votesOut:
			for j, other := range nodes {
				if j == i {
					continue
				}
				_ = other.Engine.HandleVote(ctx, v)
			}
		}
	}
}

func simDrainMetrics(ctx context.Context, log *slog.Logger, ch <-chan bftengine.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			log.Debug("Engine metrics", "m", m)
		}
	}
}

func simBlockHash(id string, height uint64, round uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d/%d", id, height, round)))
	return fmt.Sprintf("%x", sum[:8])
}
