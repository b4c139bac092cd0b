package node

import (
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tcfw/noise/internal/config"
)

func newP2PHost(cfg *config.P2P, l *logrus.Entry) (host.Host, error) {
	id, err := hostKey(cfg.IdentityFile, l)
	if err != nil {
		return nil, err
	}

	listenAddrs, err := buildListenAddrs(cfg)
	if err != nil {
		return nil, err
	}

	connMgr, err := connmgr.NewConnManager(
		cfg.Connections.PeersCountLow,
		cfg.Connections.PeersCountHigh,
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection manager")
	}

	h, err := libp2p.New(
		id,
		listenAddrs,
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.ConnectionManager(connMgr),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating libp2p host")
	}

	return h, nil
}

func buildListenAddrs(cfg *config.P2P) (libp2p.Option, error) {
	maAddrs := []multiaddr.Multiaddr{}

	for _, addr := range cfg.ListenAddrs {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		maAddrs = append(maAddrs, maddr)
	}

	return libp2p.ListenAddrs(maAddrs...), nil
}
