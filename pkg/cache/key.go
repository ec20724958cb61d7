package cache

import (
	"fmt"
	"sort"
	"strings"
)

// ExcludedParams are never part of a cache key.
var ExcludedParams = map[string]bool{
	"api_key": true,
}

// Key identifies one cached page.
type Key struct {
	// Endpoint is the API path relative to the base URL, e.g.
	// "timeseries/asset-metrics".
	Endpoint string

	// Params are the normalized query parameters, page token included.
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: cm:endpoint:param1=val1:param2=val2
//
// Example:
//
//	cm:timeseries/asset-metrics:assets=btc:metrics=PriceUSD
func (k Key) String() string {
	parts := []string{"cm"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		if !ExcludedParams[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
	}

	return strings.Join(parts, ":")
}
