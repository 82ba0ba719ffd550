// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config resolves the "Global" scope of spec.md §6's recognized
// configuration options (path_hint, suffix) plus the retry/backoff cap left
// as an open question in spec.md §9, from environment variables, an
// optional config file, and defaults, using github.com/spf13/viper the way
// CLI tools in the example pack wire flags/env/file precedence.
package config

import (
	"os"
	"time"

	"github.com/spf13/viper"

	"code.hybscloud.com/shmipc/storage"
)

const (
	keyPathHint    = "path_hint"
	keySuffix      = "suffix"
	keyEventSuffix = "event_suffix"
	keyRetryCap    = "retry_max_attempts"
)

// Config is a resolved set of process-wide defaults. The service, storage,
// transport and port packages do not read it; a caller applies it by passing
// Directories() to a service builder's Directories and RetryMaxAttempts to
// its RetryAttempts.
type Config struct {
	// PathHint is the directory static config files and dynamic config /
	// connection / event-channel shared-memory objects are created under.
	PathHint string
	// Suffix is the static config file suffix (spec.md §6 "suffix").
	Suffix string
	// RetryMaxAttempts is an attempt count for the destruction-sentinel
	// backoff retry loop (spec.md §9 Open Question 1, resolved in
	// SPEC_FULL.md §12); it takes effect only when passed to RetryAttempts.
	RetryMaxAttempts int
}

// Load resolves Config from, in ascending priority: built-in defaults, a
// config file at configPath (if non-empty and present), then environment
// variables prefixed SHMIPC_ (e.g. SHMIPC_PATH_HINT).
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetDefault(keyPathHint, os.TempDir())
	v.SetDefault(keySuffix, storage.DefaultSuffix)
	v.SetDefault(keyEventSuffix, ".shmipc_event")
	v.SetDefault(keyRetryCap, 6)

	v.SetEnvPrefix("shmipc")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	return Config{
		PathHint:         v.GetString(keyPathHint),
		Suffix:           v.GetString(keySuffix),
		RetryMaxAttempts: v.GetInt(keyRetryCap),
	}, nil
}

// Default returns Config populated from defaults and environment only (no
// config file), the common case for embedding shmipc in another program.
func Default() Config {
	cfg, _ := Load("")
	return cfg
}

// Directories adapts Config to storage.Directories for static config
// lookups.
func (c Config) Directories() storage.Directories {
	return storage.Directories{PathHint: c.PathHint, Suffix: c.Suffix}
}

// BackoffCap is a fixed 32ms bound on a single backoff sleep, independent
// of RetryMaxAttempts. No retry loop in this module reads it: service
// open-or-create and storage.RetryOpen wait with iox.Backoff directly.
const BackoffCap = 32 * time.Millisecond
