package config

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Store struct {
	Path            string
	DefaultZeroBits uint8
	SignWorkers     int
}

const (
	Cfg_store_path            = "store.path"
	Cfg_store_defaultZeroBits = "store.defaultZeroBits"
	Cfg_pow_workers           = "pow.workers"
)

var (
	storeDefaults = map[string]interface{}{
		Cfg_store_path:            "$HOME/.noise/store",
		Cfg_store_defaultZeroBits: 22,
		Cfg_pow_workers:           runtime.NumCPU(),
	}
)

func init() {
	setDefaults(storeDefaults)
}

func buildStoreConfig() (*Store, error) {
	c := &Store{}

	c.Path = expandPath(viper.GetString(Cfg_store_path))

	zb := viper.GetInt(Cfg_store_defaultZeroBits)
	if zb < 0 || zb > math.MaxUint8 {
		return nil, errors.Errorf("default zero bits %d out of range", zb)
	}
	c.DefaultZeroBits = uint8(zb)

	c.SignWorkers = viper.GetInt(Cfg_pow_workers)

	return c, nil
}
