package storage

// LocalBackend resolves "file://path" descriptions to a bare local path.
// Plain paths with no scheme never reach a Backend at all (Resolver
// passes them through directly); this exists only so a caller that
// always supplies scheme-prefixed descriptions has a symmetric option.
type LocalBackend struct{}

func (LocalBackend) Scheme() string { return "file" }

func (LocalBackend) Resolve(description string) (string, error) {
	const prefix = "file://"
	if len(description) >= len(prefix) {
		return description[len(prefix):], nil
	}
	return description, nil
}
