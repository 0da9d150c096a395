package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nseba/gitfilterd/pkg/objstore"
)

// Config is the optional on-disk configuration for gitfilterd, loaded
// from a YAML file named by -config. Every field also has a
// corresponding flag; flags take precedence when both are set.
type Config struct {
	StorePath  string   `yaml:"store_path"`
	Algorithm  string   `yaml:"algorithm"`
	Workers    int      `yaml:"workers"`
	DelayGlobs []string `yaml:"delay_globs"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) hasher() (objstore.Hasher, error) {
	algo := objstore.Algorithm(c.Algorithm)
	if algo == "" {
		algo = objstore.DefaultAlgorithm
	}
	return objstore.NewHasher(algo)
}
