// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command safenode wires a single node's config, identity, persisted
// NetworkKnowledge, membership/handover/DKG engines, the data query
// pipeline, the dysfunction detector and the dispatcher loop together, the
// way luxfi-consensus/cmd/consensus/main.go wires its own subsystems behind
// a cobra root command. The QUIC transport used to actually exchange bytes
// with peers is a collaborator consumed through the dispatcher's Outbound
// channel and an inbound feed the transport layer supplies; this binary
// does not implement that transport, per spec.md §1.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/safenode/internal/ae"
	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/config"
	"github.com/luxfi/safenode/internal/dispatch"
	"github.com/luxfi/safenode/internal/dkg"
	"github.com/luxfi/safenode/internal/dysfunction"
	"github.com/luxfi/safenode/internal/gossip"
	"github.com/luxfi/safenode/internal/handover"
	"github.com/luxfi/safenode/internal/identity"
	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/membership"
	"github.com/luxfi/safenode/internal/metrics"
	"github.com/luxfi/safenode/internal/query"
	"github.com/luxfi/safenode/internal/store"
	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

// flags mirrors the recognized options table in spec.md §6.
type flags struct {
	rootDir           string
	firstNode         bool
	bootstrapContacts []string
	elderSize         int
	dataCopyCount     int
	clean             bool
	fresh             bool
	metricsAddr       string
}

func main() {
	f := &flags{}
	root := &cobra.Command{
		Use:   "safenode",
		Short: "Run a SAFE-lineage storage network node",
		Long: `safenode runs one node of a decentralized storage and value-transfer
network: section membership and Elder handover, the data query pipeline,
dysfunction tracking, and the Anti-Entropy layer that keeps knowledge of
section authority convergent under churn.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.Flags().StringVar(&f.rootDir, "root-dir", "", "persisted state directory (default: "+config.Default().RootDir+")")
	root.Flags().BoolVar(&f.firstNode, "first-node", false, "bootstrap this node as section genesis")
	root.Flags().StringSliceVar(&f.bootstrapContacts, "bootstrap-contacts", nil, "ip:port list of existing section contacts")
	root.Flags().IntVar(&f.elderSize, "elder-size", config.Default().ElderSize, "elder committee size K")
	root.Flags().IntVar(&f.dataCopyCount, "data-copy-count", config.Default().DataCopyCount, "Adult replica count per address")
	root.Flags().BoolVar(&f.clean, "clean", false, "remove persisted chunk/register state before starting")
	root.Flags().BoolVar(&f.fresh, "fresh", false, "remove all persisted state, including identity, before starting")
	root.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on (empty disables)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "safenode: %v\n", err)
		os.Exit(1)
	}
}

// node bundles every wired component a running safenode instance needs,
// assembled once at startup and never held as a package-level singleton.
type node struct {
	cfg    config.Config
	log    *zap.Logger
	id     identity.Identity
	chunks *store.PebbleStore
	cap    store.CapacityMonitor

	tree              *knowledge.Tree
	members           *membership.Engine
	handover          *handover.Engine
	dkg               *dkg.Coordinator
	dys               *dysfunction.Tracker
	queries           *query.Pipeline
	gossip            *gossip.Disseminator
	retries           *ae.RetryTracker
	prober            *ae.Prober
	probes            *probeTracker
	pendingCandidates *candidateCache
	dispatcher        *dispatch.Dispatcher
	pool              *dispatch.WorkerPool
	metrics           *metrics.Node
	gatherer          metrics.MultiGatherer
}

func run(ctx context.Context, f *flags) error {
	cfg := config.Default().WithEnvOverrides()
	if f.rootDir != "" {
		cfg.RootDir = f.rootDir
	}
	if f.elderSize > 0 {
		cfg.ElderSize = f.elderSize
		cfg.SplitThreshold = 2 * f.elderSize
	}
	if f.dataCopyCount > 0 {
		cfg.DataCopyCount = f.dataCopyCount
	}
	cfg.FirstNode = f.firstNode
	cfg.BootstrapContacts = f.bootstrapContacts
	cfg.Clean = f.clean
	cfg.Fresh = f.fresh

	if err := cfg.Verify(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := applyResetFlags(cfg); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	n, err := bootstrap(cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer n.chunks.Close() //nolint:errcheck

	logger.Info("safenode started",
		zap.String("name", n.id.Name.String()),
		zap.String("root_dir", cfg.RootDir),
		zap.Bool("first_node", cfg.FirstNode),
		zap.Int("elder_size", cfg.ElderSize),
	)

	if f.metricsAddr != "" {
		stopMetrics := n.serveMetrics(f.metricsAddr)
		defer stopMetrics()
	}

	n.runLoops(ctx)

	logger.Info("safenode shutting down, draining in-flight work")
	n.dispatcher.Stop(shutdownGrace)
	n.pool.Stop()
	logger.Info("safenode stopped cleanly")
	return nil
}

const shutdownGrace = 10 * time.Second

// applyResetFlags implements --clean (drop chunk/register state) and
// --fresh (also drop identity and knowledge), per spec.md §6.
func applyResetFlags(cfg config.Config) error {
	if cfg.Fresh {
		if err := os.RemoveAll(cfg.RootDir); err != nil {
			return err
		}
		return nil
	}
	if cfg.Clean {
		if err := os.RemoveAll(filepath.Join(cfg.RootDir, "chunks")); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(cfg.RootDir, "reg")); err != nil {
			return err
		}
	}
	return nil
}

// bootstrap constructs every component named in spec.md §4, loading
// persisted state where it exists and initializing section genesis for a
// first_node start.
func bootstrap(cfg config.Config, logger *zap.Logger) (*node, error) {
	id, err := identity.LoadOrCreate(cfg.RootDir)
	if err != nil {
		return nil, err
	}

	chunkDir := filepath.Join(cfg.RootDir, "chunks")
	chunks, err := store.Open(chunkDir)
	if err != nil {
		return nil, err
	}

	tree, err := loadOrInitKnowledge(cfg, id)
	if err != nil {
		chunks.Close() //nolint:errcheck
		return nil, err
	}

	genesisMembers := []membership.NodeState{{
		Name:       id.Name,
		Addr:       "",
		Age:        membership.MinAge + 1,
		Membership: membership.Joined,
	}}
	membersEngine := membership.NewEngine(xorname.RootPrefix(), cfg.ElderSize, cfg.SplitThreshold, genesisMembers)

	reg := prometheus.NewRegistry()
	nodeMetrics, err := metrics.NewNode(reg)
	if err != nil {
		chunks.Close() //nolint:errcheck
		return nil, fmt.Errorf("metrics: %w", err)
	}
	gatherer := metrics.NewMultiGatherer()
	if err := gatherer.Register("safenode", reg); err != nil {
		chunks.Close() //nolint:errcheck
		return nil, fmt.Errorf("metrics: %w", err)
	}

	pool := dispatch.NewWorkerPool(dispatchWorkerCount, dispatchWorkerQueueDepth)

	n := &node{
		cfg:               cfg,
		log:               logger,
		id:                id,
		chunks:            chunks,
		cap:               store.NewCapacityMonitor(cfg.MaxCapacity, cfg.MinCapacityThreshold),
		tree:              tree,
		members:           membersEngine,
		handover:          handover.NewEngine(0, membersEngine.Elders()),
		dkg:               dkg.NewCoordinator(cfg.DKGTimeout),
		dys:               dysfunction.NewTracker(dysfunctionThreshold),
		gossip:            gossip.New(),
		retries:           ae.NewRetryTracker(cfg.AERetryMax),
		probes:            newProbeTracker(),
		pendingCandidates: newCandidateCache(),
		pool:              pool,
		metrics:           nodeMetrics,
		gatherer:          gatherer,
	}
	n.prober = ae.NewProber(cfg.ProbeInterval, n.sendProbe)
	n.queries = query.New(query.Hooks{
		OnRequestUnfulfilled: func(peer xorname.XorName, opID query.OpID) {
			n.dys.RecordIssue(peer, dysfunction.RequestUnfulfilled, opID.String(), time.Now())
		},
		OnRequestFulfilled: func(opID query.OpID) {
			n.dys.RequestFulfilled(opID.String())
		},
	})
	// n.handle closes over n itself: the Dispatcher is created only once
	// every component it routes to exists, per Component F's contract that
	// routing needs no transport, only the decoded envelope and these
	// in-process collaborators.
	n.dispatcher = dispatch.New(n.handle, dispatchInboundCapacity, dispatchOutboxDepth, pool)

	membersEngine.OnInconsistentVote(func(signer xorname.XorName) {
		n.dys.RecordIssue(signer, dysfunction.ElderVoting, "", time.Now())
	})

	return n, nil
}

// loadOrInitKnowledge loads network_contacts from disk if present,
// otherwise (when first_node is set) seeds a self-signed genesis SAP for
// the root prefix.
func loadOrInitKnowledge(cfg config.Config, id identity.Identity) (*knowledge.Tree, error) {
	path := filepath.Join(cfg.RootDir, "network_contacts")
	if data, err := os.ReadFile(path); err == nil {
		return knowledge.Deserialize(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("knowledge: read %s: %w", path, err)
	}

	if !cfg.FirstNode {
		if len(cfg.BootstrapContacts) == 0 {
			return nil, fmt.Errorf("knowledge: no persisted network_contacts and neither first_node nor bootstrap_contacts set")
		}
		// A non-genesis join fetches its first SAP from a bootstrap
		// contact over the transport layer (a collaborator); until that
		// exchange completes this node has no NetworkKnowledge to run
		// with.
		return nil, fmt.Errorf("knowledge: joining via bootstrap_contacts requires the transport layer, not implemented by this core")
	}

	sk, err := genesisSecretKey(id)
	if err != nil {
		return nil, err
	}
	pk := sk.Public()
	genesis := knowledge.SAP{
		Prefix:           xorname.RootPrefix(),
		Elders:           []knowledge.ElderInfo{{Name: id.Name, Addr: "", PublicKeyShare: pk}},
		SectionPublicKey: pk,
		Generation:       0,
	}
	genesis.Sig = sk.Sign(genesis.SigningBytes())

	tree, err := knowledge.NewTree(genesis)
	if err != nil {
		return nil, fmt.Errorf("knowledge: genesis: %w", err)
	}
	if err := persistKnowledge(cfg, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// genesisSecretKey derives the section's bootstrap BLS key from the node's
// Ed25519 identity seed. A real multi-elder genesis replaces this key via
// DKG as soon as a second node joins; a lone first_node start has no peers
// to run DKG with, so it self-signs with a key derived from its own
// identity, matching SAP.VerifySelfConsistent's genesis case.
func genesisSecretKey(id identity.Identity) (blssig.SecretKey, error) {
	seed := id.PrivateKey.Seed()
	return blssig.KeyGen(seed)
}

func persistKnowledge(cfg config.Config, tree *knowledge.Tree) error {
	data, err := tree.Serialize()
	if err != nil {
		return fmt.Errorf("knowledge: serialize: %w", err)
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("knowledge: create root dir: %w", err)
	}
	path := filepath.Join(cfg.RootDir, "network_contacts")
	return os.WriteFile(path, data, 0o644)
}

const (
	dispatchInboundCapacity  = 4096
	dispatchOutboxDepth      = 1024
	dispatchWorkerQueueDepth = 512
	dysfunctionThreshold     = 1.0

	// dispatchWorkerCount sizes the CPU-bound (BLS, DKG, hashing) worker
	// pool, leaving the single dispatcher goroutine uncontended, per
	// spec.md §5.
	dispatchWorkerCount = 4

	dkgTimeoutCheckInterval  = 5 * time.Second
	readTimeoutCheckInterval = 1 * time.Second
)

// sendProbe is the AE-Probe send callback: it records the send for the
// Communication-issue overdue check and hands the probe envelope to the
// dispatcher's outbound channel, to be delivered by the transport layer.
func (n *node) sendProbe(elder xorname.XorName, sap knowledge.SAP) {
	n.metrics.AEProbeTotal.Inc()
	now := time.Now()
	n.probes.recordSent(elder, now)
	n.dispatcher.SendOutbound(dispatch.Outbound{
		To: elder,
		Envelope: wire.Envelope{
			MsgID: wire.NewMsgID(),
			Kind:  wire.KindNode,
			Type:  wire.MsgAEProbe,
			Dst:   wire.Dst{Name: elder, SectionKey: sap.SectionPublicKey},
		},
	})
}

// serveMetrics exposes n.gatherer's families at GET /metrics and returns a
// func that shuts the listener down. A failed listener only logs: metrics
// exposition is diagnostic, never a reason to refuse to run the node.
func (n *node) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runLoops starts the dispatcher, worker pool, AE-Probe ticker, dysfunction
// tick, DKG-timeout and read-timeout goroutines and blocks until ctx is
// cancelled.
func (n *node) runLoops(ctx context.Context) {
	go n.dispatcher.Run(ctx)
	go n.prober.Run(ctx, func() (knowledge.SAP, xorname.XorName) {
		sap, _ := n.tree.KnownSAP(xorname.RootPrefix())
		return sap, n.id.Name
	})
	go n.dysfunctionLoop(ctx)
	go n.dkgTimeoutLoop(ctx)
	go n.readTimeoutLoop(ctx)

	<-ctx.Done()
}

func (n *node) dysfunctionLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.DysfunctionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, peer := range n.probes.overdue(now, 2*n.cfg.ProbeInterval) {
				n.dys.RecordIssue(peer, dysfunction.Communication, "", now)
			}
			for _, report := range n.dys.Tick(now) {
				n.metrics.DysfunctionScore.WithLabelValues(report.Peer.String(), report.Group.String()).Set(report.Score)
				n.log.Warn("peer reported faulty",
					zap.String("peer", report.Peer.String()),
					zap.String("group", report.Group.String()),
					zap.Float64("fault_level", report.Score),
				)
			}
			used, err := n.chunks.UsedSpace()
			if err == nil {
				n.metrics.StoreUsedBytes.Set(float64(used))
				n.metrics.SetJoinsAllowed(n.cap.JoinsAllowed(used))
			}
		}
	}
}

// dkgTimeoutLoop polls the DKG coordinator for sessions that missed their
// deadline and records a Dkg issue against every non-responsive
// participant, closing spec.md §4.E's "non-responsive participants accrue
// a Dkg issue" without any caller before this.
func (n *node) dkgTimeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(dkgTimeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, result := range n.dkg.CheckTimeouts(now) {
				for _, peer := range result.Nonresponsive {
					n.dys.RecordIssue(peer, dysfunction.Dkg, "", now)
				}
				n.log.Warn("dkg session timed out",
					zap.String("session", result.Key.String()),
					zap.Int("nonresponsive", len(result.Nonresponsive)),
				)
			}
		}
	}
}

// readTimeoutLoop polls the query pipeline for reads past their deadline,
// redispatching to the next untried Adult (or failing the read once
// holders are exhausted) and re-sending the request envelope for every
// redispatch CheckReadTimeouts reports.
func (n *node) readTimeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(readTimeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for opID, target := range n.queries.CheckReadTimeouts(now, n.cfg.QueryTimeout, n.cfg.QueryMaxAttempts) {
				readTarget, ok := n.queries.ReadTarget(opID)
				if !ok {
					continue
				}
				n.dispatcher.SendOutbound(dispatch.Outbound{
					To: target,
					Envelope: wire.Envelope{
						MsgID:   wire.NewMsgID(),
						Kind:    wire.KindNode,
						Type:    wire.MsgQueryRead,
						Dst:     wire.Dst{Name: readTarget, SectionKey: n.sectionKey()},
						Payload: query.EncodeReadRequest(query.ReadRequest{Target: readTarget}),
					},
				})
			}
		}
	}
}
