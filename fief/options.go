package fief

// Option defines a common functional options type which can be used in
// a variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default
// options and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithScopes provides an optional list of scopes: for AuthURL the
// scopes requested of the provider, for RefreshToken a subset of the
// originally granted scopes.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withScopes = scopes
		case *refreshTokenOptions:
			v.withScopes = scopes
		}
	}
}
