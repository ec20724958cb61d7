package catalog

import (
	"sort"
)

// Level is one way of flattening a catalog kind.
type Level struct {
	// Name is the secondary level selector. The empty name is the default.
	Name string

	// Drop lists nested columns removed before exploding.
	Drop []string

	Tree Tree
}

// Kind describes one catalog entity type.
type Kind struct {
	Name string

	// Endpoint is the catalog endpoint listing entities of this kind.
	Endpoint string

	// Levels holds the supported flattenings. A level named "" is used when
	// no secondary level is requested.
	Levels []Level
}

// Level returns the flattening selected by name.
func (k *Kind) Level(name string) (Level, error) {
	for _, l := range k.Levels {
		if l.Name == name {
			return l, nil
		}
	}
	return Level{}, &InvalidSecondaryLevelError{Kind: k.Name, Level: name, Valid: k.ValidLevels()}
}

// ValidLevels returns the named secondary levels of k, sorted.
func (k *Kind) ValidLevels() []string {
	var names []string
	for _, l := range k.Levels {
		if l.Name != "" {
			names = append(names, l.Name)
		}
	}
	sort.Strings(names)
	return names
}

// frequencies explodes per-frequency availability entries.
var frequencies = Step{Column: "frequencies", Lift: []string{"frequency"}, Rest: true}

// metricTree explodes metrics and then their frequencies, so every row
// carries the metric and one frequency. An entity without metrics keeps a
// single row with a null metric.
var metricTree = Tree{
	{Column: "metrics", Lift: []string{"metric", "frequencies"}},
	{Column: "frequencies", Lift: []string{"frequency"}, Rest: true, Under: "metric"},
}

var kinds = map[string]*Kind{}

func register(k *Kind) {
	kinds[k.Name] = k
}

func init() {
	register(&Kind{
		Name:     "assets",
		Endpoint: "catalog/assets",
		Levels: []Level{
			{Drop: []string{"metrics", "markets", "exchanges"}},
			{Name: "metrics", Drop: []string{"markets", "exchanges"}, Tree: metricTree},
			{Name: "markets", Drop: []string{"metrics", "exchanges"}, Tree: Tree{{Column: "markets", As: "market"}}},
			{Name: "exchanges", Drop: []string{"metrics", "markets"}, Tree: Tree{{Column: "exchanges", As: "exchange"}}},
		},
	})
	register(&Kind{
		Name:     "exchanges",
		Endpoint: "catalog/exchanges",
		Levels: []Level{
			{Drop: []string{"metrics", "markets"}},
			{Name: "markets", Drop: []string{"metrics"}, Tree: Tree{{Column: "markets", As: "market"}}},
			{Name: "metrics", Drop: []string{"markets"}, Tree: metricTree},
		},
	})
	register(&Kind{
		Name:     "exchange-assets",
		Endpoint: "catalog/exchange-assets",
		Levels:   []Level{{Tree: metricTree}},
	})
	register(&Kind{
		Name:     "pairs",
		Endpoint: "catalog/pairs",
		Levels:   []Level{{Tree: metricTree}},
	})
	register(&Kind{
		Name:     "institutions",
		Endpoint: "catalog/institutions",
		Levels:   []Level{{Tree: metricTree}},
	})
	register(&Kind{
		Name:     "markets",
		Endpoint: "catalog/markets",
		Levels:   []Level{{}},
	})
	register(&Kind{
		Name:     "market-metrics",
		Endpoint: "catalog-v2/market-metrics",
		Levels:   []Level{{Tree: metricTree}},
	})
	register(&Kind{
		Name:     "market-candles",
		Endpoint: "catalog-v2/market-candles",
		Levels:   []Level{{Tree: Tree{frequencies}}},
	})

	depths := Tree{{Column: "depths", Lift: []string{"depth"}, Rest: true}}
	register(&Kind{
		Name:     "market-orderbooks",
		Endpoint: "catalog-v2/market-orderbooks",
		Levels: []Level{
			{Tree: depths},
			{Name: "depths", Tree: depths},
		},
	})
	register(&Kind{
		Name:     "metrics",
		Endpoint: "catalog/metrics",
		Levels:   []Level{{Tree: Tree{frequencies}}},
	})
	register(&Kind{
		Name:     "indexes",
		Endpoint: "catalog/indexes",
		Levels:   []Level{{Tree: Tree{frequencies}}},
	})
	register(&Kind{
		Name:     "asset-alerts",
		Endpoint: "catalog-v2/asset-alerts",
		Levels: []Level{{Tree: Tree{
			{Column: "conditions", Lift: []string{"description", "threshold", "constituents"}, Rest: true},
		}}},
	})
}

// Lookup returns the registered kind with the given name.
func Lookup(name string) (*Kind, error) {
	k, ok := kinds[name]
	if !ok {
		return nil, &UnknownKindError{Kind: name, Valid: Kinds()}
	}
	return k, nil
}

// Kinds returns the names of all registered kinds, sorted.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
