package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/rigcalib/logging"
)

// Read reads a config from the given file. ${VAR} references are substituted from the
// environment before decoding; the format follows the file extension.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to decode Config from yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to decode Config from json")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", originalPath)
	}
	if cfg.DataStream.ReferenceIMU == "" {
		cfg.DataStream.ReferenceIMU = cfg.DataStream.GetReferenceIMU()
		logger.Infof("no reference imu configured, using %q", cfg.DataStream.ReferenceIMU)
	}
	return &cfg, nil
}
