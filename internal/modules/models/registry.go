package models

import (
	"fmt"
	"sort"
)

// BuilderConfig carries the knobs shared by the slot builders.
type BuilderConfig struct {
	Seed     int64
	MacroDim int // leading macro columns, needed by the neural slot
}

// Builder constructs one model slot. Builders act as the capability probe:
// a builder returns an error at construction time when its slot cannot run
// with the given configuration, never an exception deep inside a fit call.
type Builder func(cfg BuilderConfig) (Slot, error)

// Registry maps model names to builders.
var Registry = map[string]Builder{
	"OLS": func(cfg BuilderConfig) (Slot, error) {
		return NewOLS(), nil
	},
	"Ridge": func(cfg BuilderConfig) (Slot, error) {
		return NewRidge(1.0), nil
	},
	"Lasso": func(cfg BuilderConfig) (Slot, error) {
		return NewLasso(0.001), nil
	},
	"ElasticNet": func(cfg BuilderConfig) (Slot, error) {
		return NewElasticNet(0.001, 0.5), nil
	},
	"RF": func(cfg BuilderConfig) (Slot, error) {
		return NewRandomForest(100, 8, cfg.Seed), nil
	},
	"GBR": func(cfg BuilderConfig) (Slot, error) {
		return NewGradientBoost(100, 3, 0.05, cfg.Seed), nil
	},
	"RegimeNN": func(cfg BuilderConfig) (Slot, error) {
		if cfg.MacroDim < 1 {
			return nil, fmt.Errorf("RegimeNN requires at least one macro column")
		}
		return NewRegimeNet(cfg.MacroDim, 30, cfg.Seed)
	},
}

// Names returns the registered model names in stable order.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the requested slots. Unknown names are an error;
// builders that report themselves unavailable are skipped and returned in
// the second value so the caller can log them.
func Build(names []string, cfg BuilderConfig) ([]Slot, map[string]error, error) {
	slots := make([]Slot, 0, len(names))
	unavailable := make(map[string]error)
	for _, name := range names {
		builder, ok := Registry[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown model %q", name)
		}
		slot, err := builder(cfg)
		if err != nil {
			unavailable[name] = err
			continue
		}
		slots = append(slots, slot)
	}
	return slots, unavailable, nil
}
