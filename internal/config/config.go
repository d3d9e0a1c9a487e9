// Package config loads CubeDB's runtime settings with viper, layering
// defaults, an optional YAML file discovered by walking up from the
// current directory, CUBEDB_-prefixed environment variables, and
// finally CLI flags bound by cmd/cubedb.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of server settings.
type Config struct {
	Port           int
	LogLevel       string
	LogFile        string
	DumpPath       string
	MetricsAddr    string
	MaxConns       int
	RequestTimeout time.Duration
}

const envPrefix = "CUBEDB"

// configFileName is the name looked for while walking up from the
// working directory; a project can keep cubedb.yaml alongside its other
// dotfiles without pointing at it explicitly.
const configFileName = "cubedb.yaml"

// Load resolves a Config from defaults, an optional config file, env
// vars, and flags already parsed onto fs. Precedence, lowest to
// highest: defaults < config file < CUBEDB_* env vars < flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("port", 1985)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("dump-path", "")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("max-conns", 100)
	v.SetDefault("request-timeout", "30s")

	if path, ok := findConfigFile(); ok {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	timeout, err := time.ParseDuration(v.GetString("request-timeout"))
	if err != nil {
		return nil, fmt.Errorf("request-timeout %q: %w", v.GetString("request-timeout"), err)
	}

	return &Config{
		Port:           v.GetInt("port"),
		LogLevel:       v.GetString("log-level"),
		LogFile:        v.GetString("log-file"),
		DumpPath:       v.GetString("dump-path"),
		MetricsAddr:    v.GetString("metrics-addr"),
		MaxConns:       v.GetInt("max-conns"),
		RequestTimeout: timeout,
	}, nil
}

// findConfigFile walks up from the working directory looking for
// cubedb.yaml, the way a project-local dotfile is normally found —
// mirrors the parent-directory search used for workspace-local config
// elsewhere in the ecosystem, generalized to a single candidate file
// rather than a project subdirectory.
func findConfigFile() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := cwd; ; {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
