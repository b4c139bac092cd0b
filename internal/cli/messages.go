package cli

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcfw/noise/internal/config"
	"github.com/tcfw/noise/pkg/message"
)

const previewLen = 24

var (
	postCmd = &cobra.Command{
		Use:   "post [text...]",
		Short: "Sign and store a message. Use '-' to read the payload from stdin",
		RunE:  runPost,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored messages",
		RunE:  runList,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored message",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
)

func init() {
	postCmd.Flags().Int("zero-bits", -1, "proof of work difficulty. Negative uses store.defaultZeroBits")
	postCmd.Flags().String("type", "", "public type uuid. Blank posts an opaque message")
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	payload, err := readPayload(args)
	if err != nil {
		return err
	}

	zeroBits := int(cfg.Store().DefaultZeroBits)
	if zb, _ := cmd.Flags().GetInt("zero-bits"); zb >= 0 {
		zeroBits = zb
	}
	if zeroBits > math.MaxUint8 {
		return errors.Errorf("zero bits must be at most %d", math.MaxUint8)
	}

	publicType := message.OpaqueType
	if t, _ := cmd.Flags().GetString("type"); t != "" {
		publicType, err = uuid.Parse(t)
		if err != nil {
			return errors.Wrap(err, "parsing type")
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.CreateAndSign(ctx, payload, uint8(zeroBits), publicType)
	if err != nil {
		return err
	}

	c, err := r.CID()
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", r.ID(), c)

	return nil
}

func readPayload(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			return nil, errors.Wrap(err, "reading stdin")
		}
		return data, nil
	}

	if len(args) == 0 {
		return nil, errors.New("no payload given")
	}

	return []byte(strings.Join(args, " ")), nil
}

func runList(cmd *cobra.Command, args []string) error {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCID\tTYPE\tZERO BITS\tTIME\tPAYLOAD")

	err = store.Walk(ctx, func(r *message.Record) error {
		c, err := r.CID()
		if err != nil {
			return err
		}

		preview, err := multibase.Encode(multibase.Base64, firstNBytes(r.Payload[:], previewLen))
		if err != nil {
			return err
		}

		typ := "opaque"
		if !r.IsOpaque() {
			typ = r.PublicType.String()
			if codec, ok := store.Registry().Lookup(r.PublicType); ok {
				typ = codec.Name
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID(), c, typ, r.ZeroBits, r.Time().Format(time.RFC3339), preview)
		return nil
	})
	if err != nil {
		return err
	}

	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	id, err := message.ParseID(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "looking up %s", id)
	}

	ok, err := store.Delete(ctx, r)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("%s was already deleted", id)
	}

	fmt.Printf("deleted %s\n", id)

	return nil
}

func firstNBytes(d []byte, n int) []byte {
	if len(d) < n {
		n = len(d)
	}

	return d[:n]
}
