package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fragstore/internal/schema"
	"github.com/roach88/fragstore/internal/storage"
)

// ID identifies a node. It is a string under IDPolicyAppUUID and for
// temporary ids, and an int64 once assigned by the store under
// IDPolicyDBIdentity.
type ID = any

// Kind is the canonical storage kind of a column value.
type Kind int

const (
	KindString Kind = iota + 1
	KindText
	KindBoolean
	KindLong
	KindDouble
	KindDateTime
	KindBinary
	KindID
)

var kindNames = map[Kind]string{
	KindString:   "string",
	KindText:     "text",
	KindBoolean:  "boolean",
	KindLong:     "long",
	KindDouble:   "double",
	KindDateTime: "datetime",
	KindBinary:   "binary",
	KindID:       "id",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// PropertyType is a kind plus an array flag.
type PropertyType struct {
	Kind  Kind
	Array bool
}

func (t PropertyType) String() string {
	if t.Array {
		return t.Kind.String() + "[]"
	}
	return t.Kind.String()
}

// IsLargeText reports whether values may exceed an indexed VARCHAR.
func (t PropertyType) IsLargeText() bool {
	return t.Kind == KindText
}

func typeOf(f schema.Field) PropertyType {
	var k Kind
	switch f.Kind {
	case schema.KindString:
		k = KindString
	case schema.KindText:
		k = KindText
	case schema.KindBoolean:
		k = KindBoolean
	case schema.KindLong:
		k = KindLong
	case schema.KindDouble:
		k = KindDouble
	case schema.KindDate:
		k = KindDateTime
	case schema.KindBinary:
		k = KindBinary
	}
	return PropertyType{Kind: k, Array: f.Array}
}

// Normalize converts a caller-supplied scalar to its canonical storage
// value. nil is always accepted.
func (k Kind) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindString, KindText, KindBinary:
		switch s := v.(type) {
		case string:
			return norm.NFC.String(s), nil
		case []byte:
			return norm.NFC.String(string(s)), nil
		}
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindLong:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case KindDouble:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
		if n, ok := toInt64(v); ok {
			return float64(n), nil
		}
	case KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case KindID:
		switch id := v.(type) {
		case string:
			return id, nil
		case []byte:
			return string(id), nil
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	}
	return nil, storage.NewStateError("cannot store %T as %s", v, k)
}

// NormalizeArray converts a caller-supplied slice to a canonical []any.
// nil yields an empty array.
func (k Kind) NormalizeArray(v any) ([]any, error) {
	var in []any
	switch s := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		in = s
	case []string:
		for _, e := range s {
			in = append(in, e)
		}
	case []int64:
		for _, e := range s {
			in = append(in, e)
		}
	case []int:
		for _, e := range s {
			in = append(in, e)
		}
	case []bool:
		for _, e := range s {
			in = append(in, e)
		}
	case []float64:
		for _, e := range s {
			in = append(in, e)
		}
	case []time.Time:
		for _, e := range s {
			in = append(in, e)
		}
	default:
		return nil, storage.NewStateError("cannot store %T as %s[]", v, k)
	}
	out := make([]any, len(in))
	for i, e := range in {
		n, err := k.Normalize(e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// timestampFormats are the layouts a driver may hand back for a timestamp
// stored as text.
var timestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
}

// FromDB converts a value scanned from the database to its canonical form.
// Drivers differ in how they surface text, booleans and timestamps.
func (k Kind) FromDB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindString, KindText, KindBinary:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
	case KindLong:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case KindDouble:
		switch f := v.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		}
	case KindDateTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			return parseTimestamp(t)
		case []byte:
			return parseTimestamp(string(t))
		}
	case KindID:
		switch id := v.(type) {
		case string:
			return id, nil
		case []byte:
			return string(id), nil
		case int64:
			return id, nil
		}
	}
	return nil, fmt.Errorf("unexpected %T from database for %s column", v, k)
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range timestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

// FormatID renders an id for logs and cache keys.
func FormatID(id ID) string {
	switch v := id.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
