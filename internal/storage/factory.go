package storage

import (
	"fmt"
	"sort"
)

var factoryFuncs = map[string]func(string) (Ledger, error){
	"none": func(string) (Ledger, error) { return Noop{}, nil },
}

func RegisterFactory(ledgerType string, fn func(string) (Ledger, error)) {
	factoryFuncs[ledgerType] = fn
}

// New opens a ledger of the given type; an empty type means sqlite.
func New(ledgerType, path string) (Ledger, error) {
	if ledgerType == "" {
		ledgerType = "sqlite"
	}

	fn, exists := factoryFuncs[ledgerType]
	if !exists {
		return nil, fmt.Errorf("unsupported ledger type: %s (registered: %v)", ledgerType, Types())
	}

	return fn(path)
}

func Types() []string {
	types := make([]string, 0, len(factoryFuncs))
	for t := range factoryFuncs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
