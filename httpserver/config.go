package httpserver

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/webdavd/webdavd/netbuf"
)

// Config is the HTTP Engine's slice of the per-worker scratch tunables
// described in spec.md §6's configuration surface, mirroring
// HttpThreadSpecificData's constructor defaults. It is populated from the
// environment via github.com/caarlos0/env/v11, the same binding library
// dmitrymomot-foundation's own service configuration carries.
type Config struct {
	MaxRequestSize      int   `env:"HTTP_MAX_REQUEST_SIZE" envDefault:"1048576"`
	MaxChunkCount        uint8 `env:"HTTP_MAX_CHUNK_COUNT" envDefault:"128"`
	BufferPoolSize       int   `env:"HTTP_BUFFER_POOL_SIZE" envDefault:"32768"`
	BufferPoolCap        int   `env:"HTTP_BUFFER_POOL_CAP" envDefault:"1024"`
	OperationTimeout     int64 `env:"HTTP_OPERATION_TIMEOUT" envDefault:"60"`
	FirstRequestTimeout  int64 `env:"HTTP_FIRST_REQUEST_TIMEOUT" envDefault:"15"`
	KeepAliveTimeout     int64 `env:"HTTP_KEEP_ALIVE_TIMEOUT" envDefault:"60"`
}

// LoadConfig parses a Config from the process environment, applying the
// struct tag defaults for anything unset.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse httpserver config")
	}
	return cfg, nil
}

// Scratch is the concrete Worker Scratch handle the HTTP Engine consults:
// the tunables plus this Worker's private buffer pool. One Scratch is
// built per Worker by the embedder's reactor.ScratchFactory, mirroring
// HttpThreadSpecificData being constructed once per worker thread.
type Scratch struct {
	Config *Config
	Pool   *netbuf.Pool
}

// NewScratch builds a Scratch with a fresh buffer pool sized from cfg.
func NewScratch(cfg *Config) *Scratch {
	return &Scratch{Config: cfg, Pool: netbuf.NewPool(cfg.BufferPoolSize, cfg.BufferPoolCap)}
}
