package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Sync struct {
	QueueSize int
	Timeout   time.Duration
	Interval  time.Duration
}

const (
	Cfg_sync_queueSize = "sync.queueSize"
	Cfg_sync_timeout   = "sync.timeout"
	Cfg_sync_interval  = "sync.interval"
)

var (
	syncDefaults = map[string]interface{}{
		Cfg_sync_queueSize: 64,
		Cfg_sync_timeout:   2 * time.Minute,
		Cfg_sync_interval:  30 * time.Second,
	}
)

func init() {
	setDefaults(syncDefaults)
}

func buildSyncConfig() (*Sync, error) {
	c := &Sync{
		QueueSize: viper.GetInt(Cfg_sync_queueSize),
		Timeout:   viper.GetDuration(Cfg_sync_timeout),
		Interval:  viper.GetDuration(Cfg_sync_interval),
	}

	if c.QueueSize < 1 {
		return nil, errors.New("queue size must be positive")
	}

	if c.Interval <= 0 {
		return nil, errors.New("sync interval must be positive")
	}

	return c, nil
}
