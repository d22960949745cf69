// Package config loads the registry service's configuration from a YAML
// file, ENACT_REGISTRY_* environment variables, and CLI flags, in that
// priority order (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	keyDBPath      = "db.path"
	keyBlobRoot    = "blob.root"
	keyBindAddr    = "server.address"
	keyTrustPolicy = "trust.policy"
	keyAPIKeysFile = "auth.keysFile"
)

// Config wraps a viper instance and provides typed accessors.
type Config struct {
	v *viper.Viper
}

// New loads configuration from ./enact-registry.yaml or
// /etc/enact/enact-registry.yaml, then ENACT_REGISTRY_* environment variables.
func New() (*Config, error) {
	v := viper.New()

	v.SetDefault(keyDBPath, "./enact-registry.db")
	v.SetDefault(keyBlobRoot, "./enact-registry-blobs")
	v.SetDefault(keyBindAddr, ":8080")
	v.SetDefault(keyTrustPolicy, "enterprise")
	v.SetDefault(keyAPIKeysFile, "")

	v.SetConfigName("enact-registry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/enact")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ENACT_REGISTRY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags binds fs's already-registered flags to the underlying viper
// keys, so an explicitly set flag value takes priority over file/env. The
// caller is responsible for declaring the flags (on the root command, as
// persistent flags); a flag absent from fs is left at its file/env value.
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	for key, flag := range map[string]string{
		keyDBPath: "db-path", keyBlobRoot: "blob-root", keyBindAddr: "address",
		keyTrustPolicy: "trust-policy", keyAPIKeysFile: "api-keys-file",
	} {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := c.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func (c *Config) DBPath() string      { return c.v.GetString(keyDBPath) }
func (c *Config) BlobRoot() string    { return c.v.GetString(keyBlobRoot) }
func (c *Config) Address() string     { return c.v.GetString(keyBindAddr) }
func (c *Config) TrustPolicy() string { return c.v.GetString(keyTrustPolicy) }
func (c *Config) APIKeysFile() string { return c.v.GetString(keyAPIKeysFile) }
