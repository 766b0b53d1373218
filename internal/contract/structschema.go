package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func sharedValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// structSchema adapts a Go struct with `validate:"..."` tags (the same
// tag set gin's request binding uses, via the same go-playground/
// validator dependency) into a Schema. newTarget must return a fresh
// pointer to the struct type; decoding always starts from a zero value
// so prior validation failures never leak state between calls.
type structSchema struct {
	newTarget func() any
}

// NewStructSchema builds a Schema that decodes into whatever newTarget
// returns and validates it with struct tags.
//
//	NewStructSchema(func() any { return &SearchRequest{} })
func NewStructSchema(newTarget func() any) Schema {
	return &structSchema{newTarget: newTarget}
}

func (s *structSchema) Validate(data json.RawMessage) error {
	_, err := s.Parse(data)
	return err
}

func (s *structSchema) Parse(data json.RawMessage) (any, error) {
	target := s.newTarget()
	if target == nil {
		return nil, fmt.Errorf("structschema: newTarget returned nil")
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("structschema: decode: %w", err)
	}
	if err := sharedValidator().Struct(target); err != nil {
		return nil, fmt.Errorf("structschema: validate: %w", err)
	}
	return target, nil
}

// MapSchema is a permissive Schema for intents/payloads that don't have
// a statically-typed Go struct — it only checks that data parses as a
// JSON object, optionally requiring a set of top-level keys.
type MapSchema struct {
	Required []string
}

func (m MapSchema) Validate(data json.RawMessage) error {
	_, err := m.Parse(data)
	return err
}

func (m MapSchema) Parse(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("mapschema: not a json object: %w", err)
	}
	for _, key := range m.Required {
		if _, ok := obj[key]; !ok {
			return nil, fmt.Errorf("mapschema: missing required field %q", key)
		}
	}
	return obj, nil
}
