// Package config loads the engine process's ambient settings: a viper
// instance layering defaults, an optional config file, and environment
// variables, with env values always winning. Load reads no command-line
// flags; cmd/engine applies its own flag overrides to the returned
// Settings afterwards.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings are the process-wide knobs every component reads at startup:
// replica-lag tolerance, IdMap batching, and the engine's concurrency
// ceilings.
type Settings struct {
	// DataDir holds the SQLite database and on-disk blob store.
	DataDir string `yaml:"data_dir"`
	// LogLevel is one of corelog's four levels.
	LogLevel string `yaml:"log_level"`
	// LogJSON selects structured JSON log output over the console writer.
	LogJSON bool `yaml:"log_json"`

	// ReplicaLagTimeout bounds IdMap.InsertMany's wait between chunks.
	ReplicaLagTimeout time.Duration `yaml:"replica_lag_timeout"`
	// IdMapChunkSize is the IdMap insert batch size.
	IdMapChunkSize int `yaml:"idmap_chunk_size"`

	// PerRequestFanout is the fixed small ceiling on concurrent data
	// fetches per request.
	PerRequestFanout int `yaml:"per_request_fanout"`
	// DerivationBufferedUnordered bounds in-flight derivations within one
	// batch.
	DerivationBufferedUnordered int `yaml:"derivation_buffered_unordered"`
	// ManifestStepArity bounds descendants visited per manifest traversal
	// step.
	ManifestStepArity int `yaml:"manifest_step_arity"`

	// PolicyFile is the path to the TOML document config.WatchPolicy reads
	// for bookmark ACL rules and the scratch namespace pattern. Empty
	// disables hot-reloaded policy; callers fall back to an AllowAllACL
	// and an AnyKind policy with no pattern.
	PolicyFile string `yaml:"policy_file"`
}

// DumpYAML renders s back out as YAML for the operator-facing
// `--dump-config` dump of the settings actually in effect after
// defaults/file/env have been merged.
func (s *Settings) DumpYAML() ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("config: dump settings as yaml: %w", err)
	}
	return b, nil
}

func defaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("replica.lag_timeout", "5s")
	v.SetDefault("idmap.chunk_size", 1000)
	v.SetDefault("concurrency.per_request_fanout", 10)
	v.SetDefault("concurrency.derivation_buffered_unordered", 100)
	v.SetDefault("concurrency.manifest_step_arity", 4096)
	v.SetDefault("policy.file", "")
}

// Load builds a Settings from, in ascending precedence: built-in defaults,
// a config file named engine.yaml found on the given search paths, and
// ENGINE_-prefixed environment variables (e.g. ENGINE_DATA_DIR,
// ENGINE_REPLICA_LAG_TIMEOUT). searchPaths may be empty, in which case
// only defaults and the environment apply.
func Load(searchPaths ...string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName("engine")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read engine.yaml: %w", err)
		}
	}

	return &Settings{
		DataDir:                     v.GetString("data_dir"),
		LogLevel:                    v.GetString("log.level"),
		LogJSON:                     v.GetBool("log.json"),
		ReplicaLagTimeout:           v.GetDuration("replica.lag_timeout"),
		IdMapChunkSize:              v.GetInt("idmap.chunk_size"),
		PerRequestFanout:            v.GetInt("concurrency.per_request_fanout"),
		DerivationBufferedUnordered: v.GetInt("concurrency.derivation_buffered_unordered"),
		ManifestStepArity:           v.GetInt("concurrency.manifest_step_arity"),
		PolicyFile:                  v.GetString("policy.file"),
	}, nil
}

// LoadFromEnvOrDefault is a convenience entry point for cmd/engine: it
// searches the current directory, then $HOME/.config/scmcore-engine, for
// engine.yaml.
func LoadFromEnvOrDefault() (*Settings, error) {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home+"/.config/scmcore-engine")
	}
	return Load(paths...)
}
