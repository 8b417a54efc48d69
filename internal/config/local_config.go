package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the typed subset of .greenlight/config.yaml that gets
// read directly from the file rather than through the viper instance.
// Needed when the CWD has changed since Initialize, or before viper is
// up at all.
type LocalConfig struct {
	DB           string `yaml:"db"`
	Actor        string `yaml:"actor"`
	RepoURL      string `yaml:"repo-url"`
	BaseBranch   string `yaml:"base-branch"`
	TrackerKind  string `yaml:"tracker"`
	RedisAddr    string `yaml:"redis-addr"`
	DropDir      string `yaml:"drop-dir"`
	GitHubOwner  string `yaml:"github-owner"`
	GitHubRepo   string `yaml:"github-repo"`
	SlackChannel string `yaml:"slack-channel"`
}

// LoadLocalConfig reads config.yaml from the given .greenlight
// directory. Returns an empty LocalConfig (never nil) when the file is
// missing or unparseable.
func LoadLocalConfig(glDir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(glDir, "config.yaml"))
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies GL_* environment
// overrides. Environment wins over the file.
func LoadLocalConfigWithEnv(glDir string) *LocalConfig {
	cfg := LoadLocalConfig(glDir)
	if db := os.Getenv("GL_DB"); db != "" {
		cfg.DB = db
	}
	if actor := os.Getenv("GL_ACTOR"); actor != "" {
		cfg.Actor = actor
	}
	if url := os.Getenv("GL_REPO_URL"); url != "" {
		cfg.RepoURL = url
	}
	if addr := os.Getenv("GL_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	return cfg
}
