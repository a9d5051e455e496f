package serialx

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// ErrMalformed reports a payload whose shape does not match the target type.
var ErrMalformed = errors.New("serialx: malformed payload")

type ruleKind uint8

const (
	kindCopy ruleKind = iota
	kindTime
	kindNested
)

// Rule is a per-field transform applied before a payload is copied onto its
// target struct. The zero Rule is Copy.
type Rule struct {
	kind   ruleKind
	nested func(any) (any, error)
}

var (
	// Copy passes the wire value through unchanged.
	Copy = Rule{kind: kindCopy}

	// Time parses the wire value with ParseTimestamp.
	Time = Rule{kind: kindTime}
)

// Nested delegates decoding of the field to fn. A nil result leaves the target
// field at its zero value.
func Nested(fn func(any) (any, error)) Rule {
	return Rule{kind: kindNested, nested: fn}
}

// Object decodes a nested object into *T using m.
func Object[T any](m Mapping) Rule {
	return Nested(func(v any) (any, error) {
		return Decode[T](v, m)
	})
}

// List decodes a nested array into []T, applying m to every element.
func List[T any](m Mapping) Rule {
	return Nested(func(v any) (any, error) {
		return DecodeSlice[T](v, m)
	})
}

func (r Rule) apply(v any) (any, error) {
	switch r.kind {
	case kindTime:
		return ParseTimestamp(v), nil
	case kindNested:
		if r.nested == nil {
			return v, nil
		}
		return r.nested(v)
	default:
		return v, nil
	}
}

// Mapping declares the transform for each wire field that needs one. Fields
// that are not listed are copied as is.
type Mapping map[string]Rule

// Decode builds a *T from an untyped payload.
//
// A nil payload yields (nil, nil) so callers can use it to signal "not found".
// Fields absent from the payload keep the zero value of T. Wire keys are
// matched against the json tags of T. A copied value that cannot be converted
// to its field's type is dropped and the field stays zero; only a failing
// Nested rule or a non-object payload is an error.
func Decode[T any](payload any, m Mapping) (*T, error) {
	if isNil(payload) {
		return nil, nil
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformed, payload)
	}

	input := make(map[string]any, len(obj))
	for key, value := range obj {
		rule, declared := m[key]
		if !declared {
			input[key] = value
			continue
		}

		out, err := rule.apply(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if isNil(out) {
			continue
		}
		input[key] = out
	}

	var target T
	if err := decodeInto(&target, input); err == nil {
		return &target, nil
	}

	// Some copied field did not fit its target type. Retry key by key so a
	// single bad value is dropped instead of failing the whole object.
	target = *new(T)
	for key, value := range input {
		field := map[string]any{key: value}
		var scratch T
		if err := decodeInto(&scratch, field); err != nil {
			slog.Debug("serialx: dropped field", "field", key, "type", fmt.Sprintf("%T", target), "err", err)
			continue
		}
		if err := decodeInto(&target, field); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return &target, nil
}

func decodeInto(target any, input map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("serialx: build decoder: %w", err)
	}
	return dec.Decode(input)
}

// DecodeSlice decodes an array payload element by element. Null elements are
// skipped.
func DecodeSlice[T any](payload any, m Mapping) ([]T, error) {
	if isNil(payload) {
		return nil, nil
	}

	items, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrMalformed, payload)
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		v, err := Decode[T](item, m)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if v == nil {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
