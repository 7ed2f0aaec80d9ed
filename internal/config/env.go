package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// LoadEnv loads variables from the given .env files into the process environment.
// Missing files are ignored, variables that are already set are kept.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("couldn't load env file %s: %w", p, err)
		}
	}
	return nil
}

// ReadYAML reads the file at path, expands ${VAR} references from the
// environment and decodes the result into out.
func ReadYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("couldn't read file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("couldn't parse config: %w", err)
	}
	return nil
}
