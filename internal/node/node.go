package node

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tcfw/noise/internal/antientropy"
	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/internal/metrics"
	"github.com/tcfw/noise/internal/utils/logging"
	"github.com/tcfw/noise/pkg/storage"
)

const (
	mdnsServiceName = "noise-sync"

	connectTimeout = 30 * time.Second
)

var (
	ErrSessionInFlight = errors.New("sync session already in flight with peer")
)

// Node carries sync sessions over libp2p streams. Peers are found through
// mDNS on the local network and through configured bootstrap peers.
type Node struct {
	host  host.Host
	store storage.Store
	cfg   *config.Config
	mdns  mdns.Service

	// peer id => session start time
	sessions cmap.ConcurrentMap

	metricsSrv *http.Server

	logger *logrus.Entry
}

func NewNode(ctx context.Context, opts ...NodeOption) (*Node, error) {
	n := &Node{
		sessions: cmap.New(),
		logger:   logging.Component("node"),
	}

	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}

	if n.store == nil {
		return nil, errors.New("no message store")
	}

	if n.cfg == nil {
		cfg, err := config.GetConfig()
		if err != nil {
			return nil, err
		}
		n.cfg = cfg
	}

	h, err := newP2PHost(n.cfg.P2P(), n.logger)
	if err != nil {
		return nil, err
	}
	n.host = h

	n.setupStreamHandlers()

	if n.cfg.P2P().MDNS {
		n.mdns = mdns.NewMdnsService(n.host, mdnsServiceName, n)
		if err := n.mdns.Start(); err != nil {
			n.host.Close()
			return nil, errors.Wrap(err, "starting mdns")
		}
	}

	return n, nil
}

func (n *Node) Host() host.Host {
	return n.host
}

// ListenAndServe runs background syncing until ctx is done
func (n *Node) ListenAndServe(ctx context.Context) error {
	n.logger.WithField("addrs", n.host.Addrs()).WithField("id", n.host.ID().String()).Info("Starting listening")

	errCh := make(chan error, 1)

	if addr := n.cfg.MetricsAddr(); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		n.metricsSrv = &http.Server{Addr: addr, Handler: mux}

		go func() {
			n.logger.WithField("addr", addr).Info("serving metrics")
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- errors.Wrap(err, "serving metrics")
			}
		}()
	}

	go n.watchEvents(ctx)

	if err := n.bootstrap(ctx); err != nil {
		return err
	}

	t := time.NewTicker(n.cfg.Sync().Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-t.C:
			n.syncConnected(ctx)
		}
	}
}

func (n *Node) Stop() error {
	n.logger.Warn("Shutting down")

	if n.mdns != nil {
		if err := n.mdns.Close(); err != nil {
			n.logger.WithError(err).Warn("closing mdns")
		}
	}

	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n.metricsSrv.Shutdown(ctx)
	}

	return n.host.Close()
}

// Sync runs one session with p. At most one session per peer runs at a time.
func (n *Node) Sync(ctx context.Context, p peer.ID) (antientropy.Stats, error) {
	key := p.String()
	if !n.sessions.SetIfAbsent(key, time.Now()) {
		return antientropy.Stats{}, ErrSessionInFlight
	}
	defer n.sessions.Remove(key)

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Sync().Timeout)
	defer cancel()

	s, err := n.host.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return antientropy.Stats{}, errors.Wrap(err, "opening sync stream")
	}

	return n.newSession(s, p).Run(ctx)
}

// Connect dials a peer given its full p2p multiaddr
func (n *Node) Connect(ctx context.Context, addr string) (peer.ID, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", errors.Wrap(err, "parsing multiaddr")
	}

	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return "", errors.Wrap(err, "parsing peer info")
	}

	if err := n.host.Connect(ctx, *pi); err != nil {
		return "", errors.Wrap(err, "connecting to peer")
	}

	return pi.ID, nil
}

func (n *Node) newSession(s io.ReadWriteCloser, p peer.ID) *antientropy.Session {
	return antientropy.NewSession(n.store, s,
		antientropy.WithLogger(n.logger),
		antientropy.WithPeer(p.String()),
		antientropy.WithQueueSize(n.cfg.Sync().QueueSize),
	)
}

// initiates decides which side of a pair opens sessions so two peers
// discovering each other do not dial at once
func (n *Node) initiates(p peer.ID) bool {
	return n.host.ID() < p
}

func (n *Node) syncPeer(ctx context.Context, p peer.ID) {
	st, err := n.Sync(ctx, p)
	if err != nil {
		l := n.logger.WithError(err).WithField("peer", p.String())
		if errors.Is(err, ErrSessionInFlight) {
			l.Debug("skipping sync")
		} else {
			l.Warn("sync failed")
		}
		return
	}

	n.logger.WithField("peer", p.String()).WithField("stored", st.Stored).Debug("synced with peer")
}

func (n *Node) syncConnected(ctx context.Context) {
	for _, p := range n.host.Network().Peers() {
		if n.initiates(p) {
			go n.syncPeer(ctx, p)
		}
	}
}

// HandlePeerFound is called by mDNS for peers on the local network
func (n *Node) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	l := n.logger.WithField("peer", pi.ID.String())
	if err := n.host.Connect(ctx, pi); err != nil {
		l.WithError(err).Debug("failed to connect to mdns peer")
		return
	}

	l.Debug("connected to mdns peer")
}

func (n *Node) bootstrap(ctx context.Context) error {
	n.logger.Debugf("bootstrapping P2P host")

	peers := n.cfg.P2P().BootstrapPeers
	if len(peers) == 0 {
		n.logger.Debug("no bootstrapping peers")
	}

	for _, peerAddr := range peers {
		ma, err := multiaddr.NewMultiaddr(peerAddr)
		if err != nil {
			return errors.Wrap(err, "parsing bootstrap multiaddr")
		}

		peerinfo, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return errors.Wrap(err, "parsing bootstrap peer info")
		}

		go n.connectWithBackoff(ctx, *peerinfo)
	}

	return nil
}

func (n *Node) connectWithBackoff(ctx context.Context, pi peer.AddrInfo) {
	bo := &backoff.Backoff{
		Min:    5 * time.Second,
		Max:    5 * time.Minute,
		Jitter: true,
	}

	l := n.logger.WithField("peer", pi.String())

	for {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := n.host.Connect(cctx, pi)
		cancel()

		if err == nil {
			l.Debug("Connection established with bootstrap peer")
			return
		}

		d := bo.Duration()
		l.WithError(err).WithField("retry", d).Warning("failed to connect to bootstrap peer")

		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}
