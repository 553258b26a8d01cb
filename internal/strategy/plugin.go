package strategy

import (
	"fmt"
	"os"
	"plugin"

	"marketsync/internal/domain"
)

// PluginSymbol is the function every strategy plugin exports:
//
//	func NewStrategy() strategy.Strategy
//
// Plugins are built with -buildmode=plugin and must use the same Go
// toolchain and the same versions of every shared module as the host
// binary. Only linux, freebsd and darwin support plugins.
const PluginSymbol = "NewStrategy"

// LoadPlugin opens the plugin at path and returns the strategy it
// constructs. Any failure wraps domain.ErrPluginLoad.
func LoadPlugin(path string) (Strategy, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPluginLoad, path, err)
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrPluginLoad, path, err)
	}
	sym, err := p.Lookup(PluginSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPluginLoad, path, err)
	}

	var s Strategy
	switch f := sym.(type) {
	case func() Strategy:
		s = f()
	case *func() Strategy:
		s = (*f)()
	default:
		return nil, fmt.Errorf("%w: %s: %s has type %T, want func() strategy.Strategy",
			domain.ErrPluginLoad, path, PluginSymbol, sym)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s: %s returned nil", domain.ErrPluginLoad, path, PluginSymbol)
	}
	return s, nil
}
