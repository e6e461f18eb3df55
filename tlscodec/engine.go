package tlscodec

import (
	"crypto/tls"
	"errors"

	"go.uber.org/zap"

	"github.com/TheusHen/tlscodec/tlscodec/codec"
	"github.com/TheusHen/tlscodec/tlscodec/metrics"
	"github.com/TheusHen/tlscodec/tlscodec/tlsctx"
)

var ErrNilConfig = errors.New("tlscodec: nil TLS config")

// EngineOptions carries the collaborators shared by every codec an Engine
// creates.
type EngineOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is a configured TLS context from which codecs are created. It is
// safe for concurrent use.
type Engine struct {
	config *tls.Config
	opts   codec.Options
}

// NewEngine wraps config, which must not be modified afterwards.
func NewEngine(config *tls.Config, opts EngineOptions) (*Engine, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config: config,
		opts:   codec.Options{Logger: logger, Metrics: opts.Metrics},
	}, nil
}

// NewEngineFromOptions builds the TLS configuration with tlsctx first.
func NewEngineFromOptions(tlsOpts tlsctx.Options, opts EngineOptions) (*Engine, error) {
	cfg, err := tlsctx.NewConfig(tlsOpts)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg, opts)
}

// Config returns the engine's TLS configuration.
func (e *Engine) Config() *tls.Config { return e.config }

func (e *Engine) NewCodec(role codec.Role) (*codec.Codec, error) {
	return codec.New(e.config, role, e.opts)
}

func (e *Engine) NewClientCodec() (*codec.Codec, error) {
	return e.NewCodec(codec.Client)
}

func (e *Engine) NewServerCodec() (*codec.Codec, error) {
	return e.NewCodec(codec.Server)
}
