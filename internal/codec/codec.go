// Package codec encodes records to and from their on-disk representation.
//
// A [Codec] pairs a serialization format with the file extension used for
// records written in that format. [JSON] and [YAML] are provided.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// Codec serializes records.
type Codec interface {
	// Ext is the file extension without the leading dot.
	Ext() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON encodes records as indented JSON.
	JSON Codec = jsonCodec{}
	// YAML encodes records as YAML documents.
	YAML Codec = yamlCodec{}
)

var errUnknownCodec = errors.New("unknown codec")

// ByName returns the codec for "json" or "yaml" (also "yml").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCodec, name)
	}
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct{}

func (jsonCodec) Ext() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return jsonAPI.Unmarshal(data, v)
}

type yamlCodec struct{}

func (yamlCodec) Ext() string { return "yaml" }

func (yamlCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// Schema returns the JSON Schema describing T, with properties inlined.
//
// T must be a struct or a pointer to a struct.
func Schema[T any]() ([]byte, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type must be a struct or pointer to struct, got %s", t.Kind())
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.ReflectFromType(t)
	data, err := jsonAPI.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
