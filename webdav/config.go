// Package webdav implements the WebDAV Layer (DAV): a httpserver.Handler
// that interprets the broader WebDAV verb set (OPTIONS, PROPFIND, MKCOL,
// PUT, DELETE, GET, HEAD) on top of the core HTTP Engine, spills oversized
// PUT bodies to an unlinked temp file, and parses the PROPFIND XML subset
// the spec names. Grounded on
// original_source/webdav_interface.{hpp,cpp}.
package webdav

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config is the WebDAV-specific slice of the per-worker scratch tunables
// named in spec.md §6, mirroring
// WebDavInterface::_maxPostInMemmorySize / _tmpPath.
type Config struct {
	MaxPostInMemorySize int    `env:"DAV_MAX_POST_IN_MEMORY_SIZE" envDefault:"65536"`
	TmpPath             string `env:"DAV_TMP_PATH" envDefault:"/tmp"`
}

// LoadConfig parses a Config from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse webdav config")
	}
	return cfg, nil
}
