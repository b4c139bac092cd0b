package config

import (
	"os"

	"github.com/spf13/viper"
)

type Identity struct {
	File string
}

const (
	Cfg_identity_file = "identity.file"
	Cfg_metrics_addr  = "metrics.addr"
)

var (
	identityDefaults = map[string]interface{}{
		Cfg_identity_file: "$HOME/.noise/identity.yaml",
		Cfg_metrics_addr:  "",
	}
)

func init() {
	setDefaults(identityDefaults)
}

func buildIdentityConfig() *Identity {
	return &Identity{File: expandPath(viper.GetString(Cfg_identity_file))}
}

func expandPath(p string) string {
	return os.ExpandEnv(p)
}
