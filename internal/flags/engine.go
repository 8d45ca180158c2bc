package flags

import (
	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
	"github.com/TimurManjosov/flagship-webdemo/internal/sdk"
)

// Engine is the evaluation engine a Handle wraps. *sdk.Client implements it.
type Engine interface {
	Initialized() bool
	BoolVariation(key string, ctx evalctx.Context, def bool) (bool, error)
	BoolVariationDetail(key string, ctx evalctx.Context, def bool) (bool, reason.Reason, error)
	// Postfork restarts background connections for a new worker.
	Postfork() error
	Close() error
}

// EngineFactory builds an engine for an SDK key.
type EngineFactory func(sdkKey string) (Engine, error)

var _ Engine = (*sdk.Client)(nil)

// SDKFactory builds engines backed by the flag SDK with cfg.
func SDKFactory(cfg sdk.Config) EngineFactory {
	return func(sdkKey string) (Engine, error) {
		return sdk.New(sdkKey, cfg)
	}
}
