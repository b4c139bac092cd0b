package config

import (
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type P2P struct {
	Connections struct {
		PeersCountHigh int
		PeersCountLow  int
	}
	BootstrapPeers []string
	ListenAddrs    []string
	MDNS           bool
	IdentityFile   string
}

const (
	Cfg_p2p_connections_peerCountLow  = "p2p.connections.peerCountLow"
	Cfg_p2p_connections_peerCountHigh = "p2p.connections.peerCountHigh"
	Cfg_p2p_bootstrapPeers            = "p2p.bootstrapPeers"
	Cfg_p2p_listenAddrs               = "p2p.listenAddrs"
	Cfg_p2p_mdns                      = "p2p.mdns"
	Cfg_p2p_identityFile              = "p2p.identityFile"
)

var (
	p2pDefaults = map[string]interface{}{
		Cfg_p2p_connections_peerCountLow:  16,
		Cfg_p2p_connections_peerCountHigh: 64,
		Cfg_p2p_bootstrapPeers:            []string{},
		Cfg_p2p_listenAddrs: []string{
			"/ip4/0.0.0.0/tcp/8713",
		},
		Cfg_p2p_mdns:         true,
		Cfg_p2p_identityFile: "$HOME/.noise/p2p.key",
	}
)

func init() {
	setDefaults(p2pDefaults)
}

func buildP2PConfig() (*P2P, error) {
	c := &P2P{}

	c.Connections.PeersCountLow = viper.GetInt(Cfg_p2p_connections_peerCountLow)
	c.Connections.PeersCountHigh = viper.GetInt(Cfg_p2p_connections_peerCountHigh)
	c.BootstrapPeers = viper.GetStringSlice(Cfg_p2p_bootstrapPeers)
	c.ListenAddrs = viper.GetStringSlice(Cfg_p2p_listenAddrs)
	c.MDNS = viper.GetBool(Cfg_p2p_mdns)
	c.IdentityFile = expandPath(viper.GetString(Cfg_p2p_identityFile))

	for _, a := range c.ListenAddrs {
		if _, err := multiaddr.NewMultiaddr(a); err != nil {
			return nil, errors.Wrapf(err, "parsing listen addr %s", a)
		}
	}

	for _, a := range c.BootstrapPeers {
		if _, err := multiaddr.NewMultiaddr(a); err != nil {
			return nil, errors.Wrapf(err, "parsing bootstrap peer %s", a)
		}
	}

	return c, nil
}
