package document

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidID is returned for an _id value that is neither a string, an
// integer nor an ObjectID.
var ErrInvalidID = errors.New("invalid document id")

// Kind tells which form an ID holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindNumber
	KindObjectID
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindObjectID:
		return "objectid"
	default:
		return "none"
	}
}

// ID addresses a single document. It is either a string, an integer or an
// opaque ObjectID handle. The zero value is the empty ID.
type ID struct {
	kind Kind
	str  string
	num  int64
	oid  primitive.ObjectID
}

func StringID(s string) ID {
	if s == "" {
		return ID{}
	}
	return ID{kind: KindString, str: s}
}

func NumberID(n int64) ID {
	return ID{kind: KindNumber, num: n}
}

func ObjectID(oid primitive.ObjectID) ID {
	if oid.IsZero() {
		return ID{}
	}
	return ID{kind: KindObjectID, oid: oid}
}

// NewObjectID returns a freshly generated ObjectID. Stores use it for
// documents saved without an identifier.
func NewObjectID() ID {
	return ObjectID(primitive.NewObjectID())
}

// ParseID maps the canonical text form back to an ID: 24 hex digits become
// an ObjectID, a decimal integer becomes a number, anything else a string.
func ParseID(s string) ID {
	if s == "" {
		return ID{}
	}
	if len(s) == 24 {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return ObjectID(oid)
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return NumberID(n)
	}
	return StringID(s)
}

// IDFromValue converts a decoded field value (JSON, BSON or Go) into an ID.
func IDFromValue(v any) (ID, error) {
	switch t := v.(type) {
	case nil:
		return ID{}, nil
	case ID:
		return t, nil
	case string:
		return ParseID(t), nil
	case primitive.ObjectID:
		return ObjectID(t), nil
	case int:
		return NumberID(int64(t)), nil
	case int32:
		return NumberID(int64(t)), nil
	case int64:
		return NumberID(t), nil
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if t != math.Trunc(t) || t < math.MinInt64 || t >= math.MaxInt64 {
			return ID{}, fmt.Errorf("%w: %v is not an int64", ErrInvalidID, t)
		}
		return NumberID(int64(t)), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, t, err)
		}
		return NumberID(n), nil
	default:
		return ID{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidID, v)
	}
}

func (id ID) Kind() Kind   { return id.kind }
func (id ID) IsZero() bool { return id.kind == KindNone }

// String returns the canonical text form. Key/value backends use it as the
// storage key.
func (id ID) String() string {
	switch id.kind {
	case KindString:
		return id.str
	case KindNumber:
		return strconv.FormatInt(id.num, 10)
	case KindObjectID:
		return id.oid.Hex()
	default:
		return ""
	}
}

// Equal compares canonical forms, so StringID("42") equals NumberID(42).
func (id ID) Equal(other ID) bool {
	return id.String() == other.String()
}

// Value returns the native representation: string, int64 or
// primitive.ObjectID. It is what the MongoDB backend stores under _id.
func (id ID) Value() any {
	switch id.kind {
	case KindString:
		return id.str
	case KindNumber:
		return id.num
	case KindObjectID:
		return id.oid
	default:
		return nil
	}
}

// JSONValue is the value written under _id in JSON output. ObjectIDs are
// rendered as their hex string.
func (id ID) JSONValue() any {
	switch id.kind {
	case KindObjectID:
		return id.oid.Hex()
	default:
		return id.Value()
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.JSONValue())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := IDFromValue(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
