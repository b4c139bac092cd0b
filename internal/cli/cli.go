package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/internal/storage"
	"github.com/tcfw/noise/internal/utils/logging"
	"github.com/tcfw/noise/pkg/identity"
	"github.com/tcfw/noise/pkg/message"
)

var (
	rootCmd = &cobra.Command{
		Use:           "noise",
		Short:         "opportunistic store and forward messaging",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() error {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "increase verbosity")
	viper.BindPFlag(config.Cfg_verbose, rootCmd.PersistentFlags().Lookup("verbose"))

	regCommands()

	if err := rootCmd.Execute(); err != nil {
		logging.WithError(err).Error("command failed")
		return err
	}

	return nil
}

// openStore opens the configured message store with every known typed
// message registered
func openStore(ctx context.Context, cfg *config.Config) (*storage.PebbleStore, error) {
	logger := logging.Component("store")

	reg := message.NewRegistry(logger)
	if err := identity.Register(reg); err != nil {
		return nil, errors.Wrap(err, "registering identity messages")
	}

	s, err := storage.NewPebbleStore(ctx, cfg.Store().Path,
		storage.WithRegistry(reg),
		storage.WithLogger(logger),
		storage.WithSignWorkers(cfg.Store().SignWorkers),
	)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}

	return s, nil
}

func waitExit(ctx context.Context) <-chan os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	return sigs
}
