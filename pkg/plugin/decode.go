package plugin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes a raw plugin option map into out, a pointer to a
// struct with mapstructure tags. Strings are accepted for durations and
// numbers, since options may come from environment variables.
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("plugin: invalid options: %w", err)
	}
	return nil
}
