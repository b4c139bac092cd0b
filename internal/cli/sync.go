package cli

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/internal/node"
)

var (
	syncCmd = &cobra.Command{
		Use:   "sync <multiaddr>",
		Short: "Run a single sync session with a peer",
		Args:  cobra.ExactArgs(1),
		RunE:  runSync,
	}
)

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	//one shot sessions only dial out
	cfg.P2P().ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	cfg.P2P().MDNS = false

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := node.NewNode(ctx, node.WithStore(store), node.WithConfig(cfg))
	if err != nil {
		return errors.Wrap(err, "initing node")
	}
	defer n.Stop()

	p, err := n.Connect(ctx, args[0])
	if err != nil {
		return err
	}

	st, err := n.Sync(ctx, p)
	if err != nil {
		return err
	}

	fmt.Printf("sent %d, received %d, stored %d, duplicates %d, rejected %d, failed %d\n",
		st.Sent, st.Received, st.Stored, st.Duplicates, st.Rejected, st.Failed)

	return nil
}
