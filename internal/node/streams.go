package node

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	ProtocolID = protocol.ID("/noise/sync/0")
)

func (n *Node) setupStreamHandlers() {
	n.host.SetStreamHandler(ProtocolID, n.handleSync)
}

func (n *Node) handleSync(s network.Stream) {
	p := s.Conn().RemotePeer()
	key := p.String()

	if !n.sessions.SetIfAbsent(key, time.Now()) {
		n.logger.WithField("peer", key).Debug("rejecting concurrent sync")
		s.Reset()
		return
	}
	defer n.sessions.Remove(key)

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Sync().Timeout)
	defer cancel()

	// outcome is logged by the session
	n.newSession(s, p).Run(ctx)
}

func (n *Node) watchEvents(ctx context.Context) {
	sub, err := n.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerConnectednessChanged),
		new(event.EvtLocalAddressesUpdated),
	})
	if err != nil {
		n.logger.WithError(err).Error("subscribing to p2p events")
		return
	}
	defer sub.Close()

	for {
		var e interface{}
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Out():
			if !ok {
				return
			}
			e = evt
		}

		switch evt := e.(type) {
		case event.EvtPeerConnectednessChanged:
			if evt.Connectedness == network.Connected && n.initiates(evt.Peer) {
				go n.syncPeer(ctx, evt.Peer)
			}
		case event.EvtLocalAddressesUpdated:
			for _, addr := range evt.Current {
				if addr.Action != event.Maintained {
					actionStr := "added"
					if addr.Action == event.Removed {
						actionStr = "removed"
					}
					n.logger.WithField("addr", addr.Address.String()).WithField("action", actionStr).Info("updated reachability")
				}
			}
		}
	}
}
