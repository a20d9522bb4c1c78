// Package vmfsconfig loads the reader's tunables via Viper, the way the
// teacher's device package loads its own DMG configuration.
package vmfsconfig

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the reader's tunable limits as loaded by Load. No other
// package in this module reads a Config: directory link walking uses its
// own fixed hop limit, no code path selects BestEffortBlockStream, and
// bootstrap derives the FDC offset from the superblock.
type Config struct {
	// LinkChainMaxHops is loaded from link_chain_max_hops (default 1024).
	LinkChainMaxHops int `mapstructure:"link_chain_max_hops"`
	// JBOSFMode is loaded from jbosf_mode (default false).
	JBOSFMode bool `mapstructure:"jbosf_mode"`
	// BootstrapClusterGroupOffset is loaded from
	// bootstrap_cluster_group_offset (default 0x4000000).
	BootstrapClusterGroupOffset int64 `mapstructure:"bootstrap_cluster_group_offset"`
}

// Load reads vmfs-config.yaml from the working directory, a ./config
// subdirectory, $HOME/.vmfs, or /etc/vmfs, falling back to defaults when
// none exists.
func Load() (*Config, error) {
	viper.SetConfigName("vmfs-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.vmfs")
	viper.AddConfigPath("/etc/vmfs")

	viper.SetDefault("link_chain_max_hops", 1024)
	viper.SetDefault("jbosf_mode", false)
	viper.SetDefault("bootstrap_cluster_group_offset", 0x4000000)

	viper.SetEnvPrefix("VMFS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("vmfsconfig: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("vmfsconfig: unmarshaling config: %w", err)
	}
	return &cfg, nil
}
