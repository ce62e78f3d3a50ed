package processors

import (
	"docket/internal/processor"
)

// RegisterBuiltins adds the built-in processors to the registry.
func RegisterBuiltins(registry *processor.Registry) error {
	builtins := map[string]processor.Factory{
		sniffName:     NewSniff,
		checksumName:  NewChecksum,
		wordcountName: NewWordcount,
	}
	for name, factory := range builtins {
		if err := registry.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}
