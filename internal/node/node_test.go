package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/noise/internal/config"
	pebblestore "github.com/tcfw/noise/internal/storage"
	"github.com/tcfw/noise/internal/utils/logging"
	"github.com/tcfw/noise/pkg/message"
)

func newTestNode(t *testing.T) (*Node, *pebblestore.PebbleStore) {
	ctx := context.Background()

	cfg, err := config.Build()
	if err != nil {
		t.Fatal(err)
	}
	cfg.P2P().ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.P2P().MDNS = false
	cfg.P2P().IdentityFile = filepath.Join(t.TempDir(), "p2p.key")

	store, err := pebblestore.NewPebbleStore(ctx, "noise", pebblestore.WithFS(vfs.NewMem()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	n, err := NewNode(ctx, WithStore(store), WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Stop() })

	return n, store
}

func connect(t *testing.T, a, b *Node) {
	err := a.Host().Connect(context.Background(), peer.AddrInfo{
		ID:    b.Host().ID(),
		Addrs: b.Host().Addrs(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNodeSync(t *testing.T) {
	ctx := context.Background()

	n1, s1 := newTestNode(t)
	n2, s2 := newTestNode(t)

	m1, err := s1.CreateAndSign(ctx, []byte("from n1"), 8, message.OpaqueType)
	require.NoError(t, err)
	m2, err := s2.CreateAndSign(ctx, []byte("from n2"), 8, message.OpaqueType)
	require.NoError(t, err)

	connect(t, n1, n2)

	st, err := n1.Sync(ctx, n2.Host().ID())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 1, st.Stored)

	_, err = s1.Get(ctx, m2.ID())
	assert.NoError(t, err)

	//the responder persists on its own goroutine
	assert.Eventually(t, func() bool {
		_, err := s2.Get(ctx, m1.ID())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, n1.sessions.Count())
}

func TestNodeSessionInFlight(t *testing.T) {
	ctx := context.Background()

	n1, _ := newTestNode(t)
	n2, _ := newTestNode(t)
	connect(t, n1, n2)

	n1.sessions.Set(n2.Host().ID().String(), time.Now())
	_, err := n1.Sync(ctx, n2.Host().ID())
	assert.ErrorIs(t, err, ErrSessionInFlight)
	n1.sessions.Remove(n2.Host().ID().String())

	//the responder refuses a second session from the same peer
	n2.sessions.Set(n1.Host().ID().String(), time.Now())
	_, err = n1.Sync(ctx, n2.Host().ID())
	assert.Error(t, err)
}

func TestHostKeyPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "p2p.key")
	l := logging.Component("test")

	_, err := hostKey(path, l)
	require.NoError(t, err)

	b1, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = hostKey(path, l)
	require.NoError(t, err)

	b2, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
}
