package resolver

import "fmt"

// Descriptor is a declarative provider entry: an endpoint plus the name of the
// adapter that understands its response shape.
type Descriptor struct {
	ID      string `yaml:"id"`
	URL     string `yaml:"url"`
	Adapter string `yaml:"adapter"`
}

// BuildOptions configures BuildHTTP.
type BuildOptions struct {
	Client    HTTPDoer
	UserAgent string
	// ExpandURL rewrites the descriptor URL before use, e.g. to fill an IP placeholder.
	ExpandURL func(string) string
}

// BuildHTTP turns descriptors into HTTP providers, preserving order.
// An unknown adapter name is a configuration error.
func BuildHTTP[T any](descs []Descriptor, adapters map[string]Adapter[T], opts BuildOptions) ([]Provider[T], error) {
	out := make([]Provider[T], 0, len(descs))
	for _, d := range descs {
		adapter, ok := adapters[d.Adapter]
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown adapter %q", d.ID, d.Adapter)
		}
		url := d.URL
		if opts.ExpandURL != nil {
			url = opts.ExpandURL(url)
		}
		out = append(out, NewHTTPProvider(HTTPConfig[T]{
			ID:        d.ID,
			URL:       url,
			Client:    opts.Client,
			Adapter:   adapter,
			UserAgent: opts.UserAgent,
		}))
	}
	return out, nil
}

// ValidateDescriptors checks that every descriptor names a known adapter.
func ValidateDescriptors[T any](descs []Descriptor, adapters map[string]Adapter[T]) error {
	_, err := BuildHTTP(descs, adapters, BuildOptions{})
	return err
}
