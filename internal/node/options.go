package node

import (
	"github.com/sirupsen/logrus"

	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/pkg/storage"
)

type NodeOption func(*Node) error

func WithStore(s storage.Store) NodeOption {
	return func(n *Node) error {
		n.store = s
		return nil
	}
}

func WithConfig(c *config.Config) NodeOption {
	return func(n *Node) error {
		n.cfg = c
		return nil
	}
}

func WithLogger(l *logrus.Entry) NodeOption {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}
