package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/internal/node"
)

var (
	daemonCmd = &cobra.Command{
		Use:   "daemon",
		RunE:  runDaemon,
		Short: "run the daemon",
	}
)

func init() {
	daemonCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	viper.BindPFlag(config.Cfg_metrics_addr, daemonCmd.Flags().Lookup("metrics-addr"))
	daemonCmd.Flags().Bool("mdns", true, "discover peers on the local network")
	viper.BindPFlag(config.Cfg_p2p_mdns, daemonCmd.Flags().Lookup("mdns"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	node, err := node.NewNode(ctx,
		node.WithStore(store),
		node.WithConfig(cfg),
	)
	if err != nil {
		return errors.Wrap(err, "initing node")
	}

	errCh := make(chan error, 1)

	go func() {
		if err := node.ListenAndServe(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		node.Stop()
		return err
	case <-waitExit(ctx):
		cancel()
		return node.Stop()
	}
}
