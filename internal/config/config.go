package config

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tcfw/noise/internal/utils/logging"
)

const (
	Cfg_verbose = "verbose"
)

var (
	defaults = map[string]interface{}{
		Cfg_verbose: false,
	}
)

func init() {
	setDefaults(defaults)
}

func setDefaults(d map[string]interface{}) {
	for k, v := range d {
		viper.SetDefault(k, v)
	}
}

func GetConfig() (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigName("noise")
	viper.AddConfigPath("/etc/noise/")
	viper.AddConfigPath("$HOME/.noise")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("NOISE")
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error
			logging.Entry().Debug("no config found, using defaults")
		} else {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	if viper.GetBool(Cfg_verbose) {
		logging.SetLevel(logrus.DebugLevel)
		logging.Entry().WithField("level", "debug").Debug("setting log level")
	}

	return Build()
}

// Build assembles a Config from the current viper state without reading a config file
func Build() (*Config, error) {
	var err error
	c := &Config{}

	c.store, err = buildStoreConfig()
	if err != nil {
		return nil, errors.Wrap(err, "store config")
	}

	c.sync, err = buildSyncConfig()
	if err != nil {
		return nil, errors.Wrap(err, "sync config")
	}

	c.p2p, err = buildP2PConfig()
	if err != nil {
		return nil, errors.Wrap(err, "p2p config")
	}

	c.identity = buildIdentityConfig()
	c.metricsAddr = viper.GetString(Cfg_metrics_addr)

	return c, nil
}

type Config struct {
	store       *Store
	sync        *Sync
	p2p         *P2P
	identity    *Identity
	metricsAddr string
}

func (c *Config) Store() *Store {
	return c.store
}

func (c *Config) Sync() *Sync {
	return c.sync
}

func (c *Config) P2P() *P2P {
	return c.p2p
}

func (c *Config) Identity() *Identity {
	return c.identity
}

// MetricsAddr is empty when metrics are disabled
func (c *Config) MetricsAddr() string {
	return c.metricsAddr
}
