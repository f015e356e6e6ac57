package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInternal, err, "encode config")
	}
	return buf.Bytes(), nil
}

// Write saves cfg as a TOML file at path, creating parent directories.
// It refuses to overwrite an existing file unless force is set.
func Write(cfg *Config, path string, force bool) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".toml" {
		return serrors.New(serrors.ErrCodeUnsupported, "config files are written as TOML, got %q", ext)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return serrors.New(serrors.ErrCodeFileExists, "config %s already exists", path)
		}
	}
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
