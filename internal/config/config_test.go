package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	t.Setenv("HOME", "/home/noise")

	c, err := Build()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "/home/noise/.noise/store", c.Store().Path)
	assert.Equal(t, uint8(22), c.Store().DefaultZeroBits)
	assert.Equal(t, 64, c.Sync().QueueSize)
	assert.Equal(t, 2*time.Minute, c.Sync().Timeout)
	assert.Equal(t, 30*time.Second, c.Sync().Interval)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/8713"}, c.P2P().ListenAddrs)
	assert.True(t, c.P2P().MDNS)
	assert.Equal(t, "/home/noise/.noise/identity.yaml", c.Identity().File)
	assert.Empty(t, c.MetricsAddr())
}

func TestBadBootstrapPeer(t *testing.T) {
	viper.Set(Cfg_p2p_bootstrapPeers, []string{"not a multiaddr"})
	defer viper.Set(Cfg_p2p_bootstrapPeers, []string{})

	_, err := Build()
	assert.Error(t, err)
}

func TestZeroBitsRange(t *testing.T) {
	viper.Set(Cfg_store_defaultZeroBits, 300)
	defer viper.Set(Cfg_store_defaultZeroBits, 22)

	_, err := Build()
	assert.Error(t, err)
}
