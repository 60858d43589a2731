package plugin

import (
	"os"
	"sort"
)

// PriorityOrder lists the plugin entries of a directory in enumeration
// order. Loaders assign priorities from this order: index 0 runs first.
func PriorityOrder(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ComposeFactory chains factories; plugin priority follows the combined
// construction order.
func ComposeFactory(factories ...Factory) Factory {
	return func(host Host) []Plugin {
		var out []Plugin
		for _, f := range factories {
			if f == nil {
				continue
			}
			out = append(out, f(host)...)
		}
		return out
	}
}
