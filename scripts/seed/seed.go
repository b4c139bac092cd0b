// seed fills a message store with signed random messages, for trying out
// sync between local nodes
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/tcfw/noise/internal/storage"
	"github.com/tcfw/noise/pkg/message"
)

func main() {
	path := pflag.StringP("store", "s", "./seed-store", "store path")
	count := pflag.IntP("count", "n", 100, "messages to create")
	zeroBits := pflag.Uint8P("zero-bits", "z", 12, "proof of work difficulty")
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	store, err := storage.NewPebbleStore(ctx, *path)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	start := time.Now()

	for i := 0; i < *count; i++ {
		payload := fmt.Sprintf("seed message %d from %s", i, hostname())
		if _, err := store.CreateAndSign(ctx, []byte(payload), *zeroBits, message.OpaqueType); err != nil {
			panic(err)
		}
	}

	d, err := store.Digest(ctx)
	if err != nil {
		panic(err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Seeded %d messages in %s\nStore holds %d messages, %d digest bits set\n", *count, time.Since(start), n, d.Count())
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
