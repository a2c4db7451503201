package config

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// AttributeMap holds model specific settings of a topic.
type AttributeMap map[string]interface{}

// Has reports whether the attribute is set.
func (am AttributeMap) Has(name string) bool {
	_, ok := am[name]
	return ok
}

// Float64 returns the attribute as a float64, or def when it is absent or not numeric.
func (am AttributeMap) Float64(name string, def float64) float64 {
	v, ok := am[name]
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// Int returns the attribute as an int, or def when it is absent or not numeric.
func (am AttributeMap) Int(name string, def int) int {
	v, ok := am[name]
	if !ok {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// String returns the attribute as a string, or def when it is absent.
func (am AttributeMap) String(name, def string) string {
	v, ok := am[name]
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// Decode decodes the attributes into the struct pointed to by out, matching json tags.
func (am AttributeMap) Decode(out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(am))
}
