package config

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Read reads a JSON config from the given file. Environment variables in the file are expanded
// first. Values missing from the file keep their defaults.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(bytes.NewReader(buf))
}

// FromReader reads a JSON config from r.
func FromReader(r io.Reader) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	return FromAttributes(attributes)
}

// FromAttributes decodes attributes onto the defaults. Durations may be given as milliseconds or
// as Go duration strings. Unknown keys are an error so a misspelled setting is not silently
// ignored.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       durationHook,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return nil, errors.Errorf("unknown config keys: %s", strings.Join(md.Unused, ", "))
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook reads numbers as milliseconds and strings as Go durations.
func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		s := data.(string)
		if ms, err := cast.ToFloat64E(s); err == nil {
			return time.Duration(ms * float64(time.Millisecond)), nil
		}
		return cast.ToDurationE(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		ms, err := cast.ToFloat64E(data)
		if err != nil {
			return nil, err
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	default:
		return data, nil
	}
}
