package forms

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// Builtin returns the form templates shipped with the binary, ordered by id.
func Builtin() ([]*Definition, error) {
	entries, err := fs.ReadDir(catalogFS, "catalog")
	if err != nil {
		return nil, err
	}
	var defs []*Definition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := catalogFS.ReadFile("catalog/" + e.Name())
		if err != nil {
			return nil, err
		}
		def, err := Decode(data, FormatYAML)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}
