// Package config holds the viper-backed configuration layer for the gl
// CLI. Precedence: explicit Set (flags) > GL_* environment variables >
// .greenlight/config.yaml > defaults. Components never read this
// package directly; the CLI resolves values here and injects typed
// Config structs.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dir is the project-local data directory, discovered by walking up
// from the working directory.
const Dir = ".greenlight"

// v is the process-wide viper instance. Nil until Initialize runs;
// every getter is nil-safe so early callers get zero values.
var v *viper.Viper

// Initialize builds the viper instance: defaults, GL_* env binding, and
// the nearest .greenlight/config.yaml if one exists. Safe to call again
// to pick up environment changes.
func Initialize() error {
	nv := viper.New()

	nv.SetDefault("json", false)
	nv.SetDefault("db", "")
	nv.SetDefault("actor", "")
	nv.SetDefault("queue.broker", "memory")
	nv.SetDefault("queue.redis-addr", "localhost:6379")
	nv.SetDefault("worker.slots", 2)
	nv.SetDefault("worker.poll-timeout", 30*time.Second)
	nv.SetDefault("git.base-branch", "main")
	nv.SetDefault("git.branch-prefix", "greenlight")
	nv.SetDefault("tracker.kind", "")
	nv.SetDefault("dashboard.addr", "127.0.0.1:4680")

	nv.SetEnvPrefix("GL")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	if path := findConfigYAML(); path != "" {
		nv.SetConfigFile(path)
		if err := nv.ReadInConfig(); err != nil {
			return err
		}
	}

	v = nv
	return nil
}

// findConfigYAML walks up from CWD looking for .greenlight/config.yaml.
// Empty string when none is found.
func findConfigYAML() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		path := filepath.Join(dir, Dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// FindDir walks up from CWD looking for an existing .greenlight
// directory. Falls back to .greenlight under CWD when none exists yet.
func FindDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return Dir
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		path := filepath.Join(dir, Dir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
	}
	return filepath.Join(cwd, Dir)
}

// Set overrides a key for the life of the process. Used by flag binding.
func Set(key string, value interface{}) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// AllSettings returns the merged view of every configuration source.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
