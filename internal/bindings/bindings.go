// Package bindings implements the typed parameter-binding layer: Go
// generics over a small Scalar interface plus reflection-driven struct-tag
// dispatch turn a builtin's raw string arguments into its declared
// parameter struct.
package bindings

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/wharflab/complianceengine/internal/status"
)

// Scalar is implemented by every concrete, addressable parameter value
// type. ParseString mutates the receiver in place so that reflection can
// drive parsing without per-type switch statements in Bind.
type Scalar interface {
	ParseString(raw string) error
}

// ScalarPtr constrains a pointer-to-S to implement Scalar, the pattern used
// by Optional and Separated to stay generic over the wrapped scalar type.
type ScalarPtr[S any] interface {
	*S
	Scalar
}

// StringValue is the builtin string scalar.
type StringValue string

// ParseString implements Scalar.
func (s *StringValue) ParseString(raw string) error {
	*s = StringValue(raw)
	return nil
}

// IntValue is the builtin signed 64-bit integer scalar.
type IntValue int64

// ParseString implements Scalar.
func (i *IntValue) ParseString(raw string) error {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer value '%s'", raw)
	}
	*i = IntValue(v)
	return nil
}

// BoolValue is the builtin boolean scalar, accepting exactly "true"|"false".
type BoolValue bool

// ParseString implements Scalar.
func (b *BoolValue) ParseString(raw string) error {
	switch raw {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("invalid boolean value '%s'", raw)
	}
	return nil
}

// OctalValue is a mode parsed base-8 and limited to 0..07777.
type OctalValue uint32

// ParseString implements Scalar.
func (o *OctalValue) ParseString(raw string) error {
	v, err := strconv.ParseUint(strings.TrimPrefix(raw, "0"), 8, 32)
	if raw == "0" {
		v, err = 0, nil
	}
	if err != nil {
		return fmt.Errorf("invalid octal mode '%s'", raw)
	}
	if v > 0o7777 {
		return fmt.Errorf("octal mode '%s' out of range", raw)
	}
	*o = OctalValue(v)
	return nil
}

// Optional wraps a scalar whose absence is legal. Set reports whether a
// value was actually bound.
type Optional[S any, PS ScalarPtr[S]] struct {
	Value S
	Set   bool
}

// ParseString implements Scalar; binding an Optional only happens when the
// key was present in the raw argument map (Bind skips absent optional
// fields entirely).
func (o *Optional[S, PS]) ParseString(raw string) error {
	p := PS(&o.Value)
	if err := p.ParseString(raw); err != nil {
		return err
	}
	o.Set = true
	return nil
}

// Separated is a list of scalars split on a separator, defaulting to "|"
// unless overridden by the field's `sep` struct tag.
type Separated[S any, PS ScalarPtr[S]] struct {
	Items []S
	Sep   string
}

// ParseString implements Scalar.
func (sp *Separated[S, PS]) ParseString(raw string) error {
	sep := sp.Sep
	if sep == "" {
		sep = "|"
	}
	parts := strings.Split(raw, sep)
	items := make([]S, 0, len(parts))
	for _, part := range parts {
		var v S
		p := PS(&v)
		if err := p.ParseString(part); err != nil {
			return err
		}
		items = append(items, v)
	}
	sp.Items = items
	return nil
}

// Enum is a name-to-variant lookup table for an enumeration parameter. The
// zero value is not usable; builtins construct one with NewEnum and place
// it (already carrying its table) into the zero value of their parameter
// struct before calling Bind.
type Enum[T comparable] struct {
	Value T
	table map[string]T
}

// NewEnum builds an Enum bound to the given name->variant table.
func NewEnum[T comparable](table map[string]T) Enum[T] {
	return Enum[T]{table: table}
}

// ParseString implements Scalar.
func (e *Enum[T]) ParseString(raw string) error {
	v, ok := e.table[raw]
	if !ok {
		return fmt.Errorf("Invalid value '%s' for enumeration parameter", raw)
	}
	e.Value = v
	return nil
}

// Bind populates a T (by value) from a raw string argument map:
// unknown keys error, missing required keys error, excess arity errors,
// and each present field is parsed through its Scalar implementation.
//
// seed, when non-nil, is used as the starting value instead of the zero
// value of T. Builtins with enum fields must pass a seed carrying
// pre-wired Enum tables (Enum's table is unexported and cannot otherwise be
// populated by reflection).
func Bind[T any](args map[string]string, seed *T) (T, *status.Err) {
	var out T
	if seed != nil {
		out = *seed
	}
	v := reflect.ValueOf(&out).Elem()
	t := v.Type()

	fieldTag := make([]string, t.NumField())
	known := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("param")
		fieldTag[i] = tag
		if tag != "" && tag != "-" {
			known[tag] = true
		}
	}

	if len(args) > len(known) {
		return out, status.NewCallerError("Too many arguments provided")
	}
	for k := range args {
		if !known[k] {
			return out, status.NewCallerError("Unknown parameter '%s'", k)
		}
	}

	for i := 0; i < t.NumField(); i++ {
		tag := fieldTag[i]
		if tag == "" || tag == "-" {
			continue
		}
		fv := v.Field(i)
		raw, present := args[tag]

		if sepTag := t.Field(i).Tag.Get("sep"); sepTag != "" {
			if sepField := fv.FieldByName("Sep"); sepField.IsValid() && sepField.CanSet() {
				sepField.SetString(sepTag)
			}
		}

		if !present {
			if isOptional(fv) {
				continue
			}
			return out, status.NewCallerError("Missing required '%s' parameter", tag)
		}

		addr := fv.Addr()
		scalar, ok := addr.Interface().(Scalar)
		if !ok {
			return out, status.NewCallerError("internal: field '%s' is not bindable", tag)
		}
		if err := scalar.ParseString(raw); err != nil {
			return out, status.NewCallerError("%s", err.Error())
		}
	}

	return out, nil
}

// isOptional reports whether fv's type looks like an Optional[S, PS]: it
// has an exported, settable boolean field named "Set".
func isOptional(fv reflect.Value) bool {
	if fv.Kind() != reflect.Struct {
		return false
	}
	f := fv.FieldByName("Set")
	return f.IsValid() && f.Kind() == reflect.Bool
}

// Substitute replaces every `$name` token in raw with its value from params.
// An unreplaced reference is reported via the returned bool.
func Substitute(raw string, params map[string]string) (string, string, bool) {
	var b strings.Builder
	i := 0
	for i < len(raw) {
		if raw[i] != '$' {
			b.WriteByte(raw[i])
			i++
			continue
		}
		j := i + 1
		for j < len(raw) && isIdentByte(raw[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(raw[i])
			i++
			continue
		}
		name := raw[i+1 : j]
		val, ok := params[name]
		if !ok {
			return "", name, false
		}
		b.WriteString(val)
		i = j
	}
	return b.String(), "", true
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
