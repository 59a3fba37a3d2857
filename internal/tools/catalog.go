package tools

import (
	"context"
	_ "embed"
	"fmt"

	"sigs.k8s.io/yaml"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalog struct {
	Tools []Schema `json:"tools"`
}

// Catalog returns the declared tool schemas in declaration order.
func Catalog() ([]Schema, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(data []byte) ([]Schema, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	return c.Tools, nil
}

// NewCatalogRegistry registers every catalog tool, each forwarding its calls
// to backend.
func NewCatalogRegistry(backend Backend) (*Registry, error) {
	schemas, err := Catalog()
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	for _, schema := range schemas {
		name := schema.Name
		tool := Tool{
			Schema: schema,
			Function: func(ctx context.Context, args map[string]any) (string, error) {
				return backend.Call(ctx, name, args)
			},
		}
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}
