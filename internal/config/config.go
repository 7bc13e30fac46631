package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"agent-keys/internal/domain"
)

const configName = "agentkeys"

// Load reads agentkeys.yaml and produces the run configuration. When
// explicitPath is empty, the file is searched in the user config directory
// and the current directory; environment variables with the AGENTKEYS_
// prefix override file values. Missing required fields are fatal.
func Load(explicitPath string) (domain.Config, error) {
	var cfg domain.Config

	v := viper.New()
	v.SetDefault("agent_backend", domain.BackendSSHAdd)
	v.SetDefault("key_lifetime", 0)
	v.SetDefault("sync_vault", true)
	v.SetDefault("lock_on_exit", false)
	v.SetDefault("cache_session", false)

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, configName))
	}
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvPrefix(configName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"folder_id", "mapping_file", "email"} {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the search path is fine as long as the
		// environment supplies the required settings. An explicitly
		// requested file must exist.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	if strings.TrimSpace(cfg.FolderID) == "" {
		return cfg, fmt.Errorf("%w: missing required setting folder_id", domain.ErrConfig)
	}
	if strings.TrimSpace(cfg.MappingFile) == "" {
		return cfg, fmt.Errorf("%w: missing required setting mapping_file", domain.ErrConfig)
	}
	if cfg.AgentBackend != domain.BackendSSHAdd && cfg.AgentBackend != domain.BackendNative {
		return cfg, fmt.Errorf("%w: invalid agent_backend %q (expected %q or %q)", domain.ErrConfig, cfg.AgentBackend, domain.BackendSSHAdd, domain.BackendNative)
	}
	if cfg.KeyLifetime < 0 {
		return cfg, fmt.Errorf("%w: key_lifetime must not be negative", domain.ErrConfig)
	}

	cfg.MappingFile = domain.ExpandUser(cfg.MappingFile)
	return cfg, nil
}
