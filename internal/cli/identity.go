package cli

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/pkg/identity"
)

var (
	identityCmd = &cobra.Command{
		Use:   "identity",
		Short: "Identity commands",
	}

	identity_newCmd = &cobra.Command{
		Use:   "new <username>",
		Short: "Create a local identity and announce it",
		Args:  cobra.ExactArgs(1),
		RunE:  runIdentityNew,
	}

	identity_listCmd = &cobra.Command{
		Use:   "list",
		Short: "List identities announced to this node",
		RunE:  runIdentityList,
	}
)

func init() {
	identity_newCmd.Flags().Int("zero-bits", identity.DefaultZeroBits, "proof of work difficulty of the announcement")
}

func runIdentityNew(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zb, _ := cmd.Flags().GetInt("zero-bits")
	if zb < 1 || zb > 255 {
		return errors.Errorf("zero bits %d out of range", zb)
	}

	l, err := identity.Generate(rand.Reader, args[0])
	if err != nil {
		return err
	}

	ids, err := identity.NewFileStore(cfg.Identity().File)
	if err != nil {
		return err
	}

	if err := ids.Add(l); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := identity.Announce(ctx, store, l, uint8(zb))
	if err != nil {
		return err
	}

	fmt.Printf("%s %s announced as %s\n", l.Username, l.Announcement().EncodedKey(), r.ID())

	return nil
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
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

	remotes, err := identity.Remotes(ctx, store)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tDEVICE\tKEY\tMESSAGE")
	for _, a := range remotes {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.Username, a.DeviceID, a.EncodedKey(), a.RecordID())
	}

	return w.Flush()
}
