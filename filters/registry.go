package filters

import "fmt"

// Registry is used to store and retrieve filter specifications.
type Registry map[string]Spec

// Register a filter specification.
func (r Registry) Register(s Spec) {
	name := s.Name()
	r[name] = s
}

// CreateChain creates the filter instances of a chain, in the configured
// order. Unknown filter names and invalid arguments are reported as
// errors.
func (r Registry) CreateChain(config []*Config) ([]*Named, error) {
	chain := make([]*Named, 0, len(config))
	for _, c := range config {
		spec, ok := r[c.Name]
		if !ok {
			return nil, fmt.Errorf("filter not found: '%s'", c.Name)
		}

		f, err := spec.CreateFilter(c.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to create filter %q: %w", c.Name, err)
		}

		chain = append(chain, &Named{Name: c.Name, Filter: f})
	}

	return chain, nil
}
