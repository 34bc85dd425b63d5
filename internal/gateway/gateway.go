// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package gateway wires the dataplane (C2), DLM registry (C3), policy
// engine (C4), session manager (C5), and Diameter codec (C6) into the
// MAGIC ground/aircraft gateway process: it runs the Diameter peer
// listener, drives the per-session command FSM, reacts to DLM link events
// by re-selecting paths, and houses the periodic heartbeat/status ticker.
package gateway

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/dataplane"
	"skyloom.aero/magic-gateway/internal/dlm"
	"skyloom.aero/magic-gateway/internal/diameter"
	"skyloom.aero/magic-gateway/internal/errors"
	"skyloom.aero/magic-gateway/internal/logging"
	"skyloom.aero/magic-gateway/internal/metrics"
	"skyloom.aero/magic-gateway/internal/policy"
	"skyloom.aero/magic-gateway/internal/session"
	"skyloom.aero/magic-gateway/internal/tft"
)

// Orchestrator is the assembled gateway core: one per process.
type Orchestrator struct {
	cfg config.GatewayConfig

	sessions   *session.Manager
	cdrs       *session.CDRLedger
	policy     *policy.Engine
	dlmReg     *dlm.Registry
	dlmSrv     *dlm.Server
	dataplane  *dataplane.Controller
	whitelists map[string]*tft.Whitelist // by ClientID
	metrics    *metrics.Metrics
	metricsCol *metrics.Collector

	log *logging.Logger

	diameterAddr string
	listener     net.Listener

	peersMu sync.Mutex
	peers   map[string]*peerConn // by SessionID, for server-push (MNTR/MSCR)

	hopByHop uint32 // atomic
}

// peerConn serializes writes to one Diameter peer connection; concurrent
// answers and server-push notifications for the same session must not
// interleave their bytes on the wire.
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (p *peerConn) send(m *diameter.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return diameter.WriteMessage(p.conn, m)
}

// New assembles an Orchestrator from a fully parsed configuration. applier
// is the dataplane's platform backend (dataplane.NewLinuxApplier() in
// production, a fake in tests). m may be nil, in which case no metrics are
// collected (tests that don't care to wire a registry).
func New(cfg config.GatewayConfig, applier dataplane.Applier, diameterAddr string, m *metrics.Metrics, log *logging.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	log = log.WithComponent("gateway")

	whitelists := make(map[string]*tft.Whitelist, len(cfg.Clients))
	for _, c := range cfg.Clients {
		wl, err := tft.ParseWhitelist(c.Whitelist.AllowedTFTs)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "gateway: client %q whitelist", c.ClientID)
		}
		whitelists[c.ClientID] = wl
	}

	ruleSets := make([]policy.RuleSet, 0, len(cfg.PolicyRuleSets))
	for _, rsc := range cfg.PolicyRuleSets {
		ruleSets = append(ruleSets, convertRuleSet(rsc))
	}

	dp, err := dataplane.New(applier, cfg.ClientSubnetCIDR, log)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "gateway: dataplane init failed")
	}

	heartbeat := time.Duration(cfg.HeartbeatInterval) * time.Second
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	dlmReg := dlm.NewRegistry(heartbeat, log)

	// Links known ahead of time from configuration are pre-registered so
	// policy selection and MSCR status reports see them immediately; they
	// stay marked down until their DLM driver connects and reports in over
	// the IPC socket (registration here only seeds the static profile).
	for _, link := range cfg.Links {
		if _, err := dlmReg.RegisterLink("", link); err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "gateway: preconfigured link %q", link.LinkID)
		}
	}

	sessions := session.NewManager(cfg.Clients, log)

	o := &Orchestrator{
		cfg:          cfg,
		sessions:     sessions,
		cdrs:         session.NewCDRLedger(),
		policy:       policy.NewEngine(ruleSets, policy.PhaseParked, log),
		dlmReg:       dlmReg,
		dlmSrv:       dlm.NewServer(cfg.DLMSocketPath, dlmReg, log),
		dataplane:    dp,
		whitelists:   whitelists,
		metrics:      m,
		log:          log,
		diameterAddr: diameterAddr,
		peers:        make(map[string]*peerConn),
	}
	if m != nil {
		o.metricsCol = metrics.NewCollector(m, sessions, dlmReg, dp, 10*time.Second, log)
	}
	return o, nil
}

func convertRuleSet(rsc config.PolicyRuleSetConfig) policy.RuleSet {
	phases := make([]policy.FlightPhase, 0, len(rsc.FlightPhases))
	for _, p := range rsc.FlightPhases {
		phases = append(phases, policy.FlightPhase(p))
	}
	rules := make([]policy.PolicyRule, 0, len(rsc.Rules))
	for _, rc := range rsc.Rules {
		prefs := make([]policy.PathPreference, 0, len(rc.Preferences))
		for _, pc := range rc.Preferences {
			prefs = append(prefs, policy.PathPreference{
				Ranking:          pc.Ranking,
				LinkID:           pc.LinkID,
				Action:           policy.Action(pc.Action),
				SecurityRequired: pc.SecurityRequired,
			})
		}
		rules = append(rules, policy.PolicyRule{TrafficClass: policy.TrafficClass(rc.TrafficClass), Preferences: prefs})
	}
	return policy.RuleSet{FlightPhases: phases, Rules: rules}
}

// nextIDs returns a fresh hop-by-hop id; end-to-end tracks it 1:1 since
// this process originates every session (no upstream relay to preserve a
// separate end-to-end identifier across).
func (o *Orchestrator) nextIDs() (hbh, ete uint32) {
	id := atomic.AddUint32(&o.hopByHop, 1)
	return id, id
}

// Run starts every long-lived subsystem and blocks until ctx is canceled
// or one of them fails. Named goroutines mirror spec §5's process model:
// the DLM accept loop, the Diameter peer accept loop, DLM-event-driven
// re-selection, and the housekeeping ticker.
func (o *Orchestrator) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.diameterAddr)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "gateway: diameter listen failed")
	}
	o.listener = ln

	eg, ctx := errgroup.WithContext(ctx)

	if o.metricsCol != nil {
		eg.Go(func() error {
			o.metricsCol.Start()
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			o.metricsCol.Stop()
			return nil
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	eg.Go(func() error {
		return o.dlmSrv.Serve(ctx)
	})
	eg.Go(func() error {
		return o.serveDiameter(ctx)
	})
	eg.Go(func() error {
		o.consumeDLMEvents(ctx)
		return nil
	})
	eg.Go(func() error {
		o.runHousekeeping(ctx)
		return nil
	})

	o.log.Info("gateway started", "diameter_addr", o.diameterAddr, "dlm_socket", o.cfg.DLMSocketPath)
	return eg.Wait()
}

func (o *Orchestrator) serveDiameter(ctx context.Context) error {
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, errors.KindInternal, "gateway: diameter accept failed")
			}
		}
		go o.handleConn(ctx, conn)
	}
}

func (o *Orchestrator) registerPeer(sessionID string, conn net.Conn) *peerConn {
	pc := &peerConn{conn: conn}
	o.peersMu.Lock()
	o.peers[sessionID] = pc
	o.peersMu.Unlock()
	return pc
}

func (o *Orchestrator) unregisterPeer(sessionID string) {
	o.peersMu.Lock()
	delete(o.peers, sessionID)
	o.peersMu.Unlock()
}

func (o *Orchestrator) peer(sessionID string) (*peerConn, bool) {
	o.peersMu.Lock()
	defer o.peersMu.Unlock()
	pc, ok := o.peers[sessionID]
	return pc, ok
}
