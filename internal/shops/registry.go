// internal/shops/registry.go
package shops

import (
	"fmt"
	"sort"

	"github.com/order-archivers/harvest/internal/config"
	"github.com/order-archivers/harvest/internal/scrape"
)

// Builder constructs a shop adapter from its resolved configuration.
type Builder func(cfg config.ShopConfig) (scrape.ShopAdapter, error)

var registry = map[string]Builder{}

// Register makes a shop adapter available under name. Called from adapter
// init functions.
func Register(name string, build Builder) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("shop adapter %q registered twice", name))
	}
	registry[name] = build
}

// Build resolves a registered adapter by name.
func Build(name string, cfg config.ShopConfig) (scrape.ShopAdapter, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", scrape.ErrNoAdapter, name, Names())
	}
	return build(cfg)
}

// Names lists the registered shop names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
