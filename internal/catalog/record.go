package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/internal/codec"
)

// Field key is either string name or uint code.
type Field struct {
	Key   interface{}
	Value interface{}
}

// Record is an ordered key/value form of a Descriptor, on the wire a CBOR map.
type Record []Field

func (self Record) Get(key interface{}) (interface{}, bool) {
	for _, f := range self {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (self Record) Map() map[interface{}]interface{} {
	m := make(map[interface{}]interface{}, len(self))
	for _, f := range self {
		m[f.Key] = f.Value
	}
	return m
}

func (self Record) String() string {
	ss := make([]string, len(self))
	for i, f := range self {
		ss[i] = fmt.Sprintf("%v=%v", f.Key, f.Value)
	}
	return "{" + strings.Join(ss, " ") + "}"
}

func (self Record) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(self.Map())
}

// UnmarshalCBOR restores fields with integer keys first, then text keys,
// both ascending.
func (self *Record) UnmarshalCBOR(b []byte) error {
	var m map[interface{}]interface{}
	if err := codec.Unmarshal(b, &m); err != nil {
		return errors.Annotate(err, "record")
	}
	r := make(Record, 0, len(m))
	for k, v := range m {
		if code, ok := toUint(k); ok {
			k = code
		} else if _, ok := k.(string); !ok {
			return errors.NotValidf("record key type %T", k)
		}
		r = append(r, Field{k, v})
	}
	sort.Slice(r, func(i, j int) bool { return keyLess(r[i].Key, r[j].Key) })
	*self = r
	return nil
}

func keyLess(a, b interface{}) bool {
	ac, aInt := a.(uint)
	bc, bInt := b.(uint)
	switch {
	case aInt && bInt:
		return ac < bc
	case aInt != bInt:
		return aInt
	}
	return a.(string) < b.(string)
}

// Compact replaces known enumerated string values and known key names with
// their codes. Unknown keys and values pass through.
func Compact(r Record) Record {
	out := make(Record, len(r))
	for i, f := range r {
		key, value := f.Key, f.Value
		if name, ok := key.(string); ok {
			if s, ok := value.(string); ok {
				if code, ok := ValueCode(name, s); ok {
					value = code
				}
			}
			if code, ok := KeyCode(name); ok {
				key = code
			}
		}
		out[i] = Field{key, value}
	}
	return out
}

// Expand is the inverse of Compact.
func Expand(r Record) Record {
	out := make(Record, len(r))
	for i, f := range r {
		key, value := f.Key, f.Value
		if code, ok := toUint(key); ok {
			if name, ok := KeyName(code); ok {
				key = name
			}
		}
		if name, ok := key.(string); ok && HasValueTable(name) {
			if code, ok := toUint(value); ok {
				if s, ok := ValueName(name, code); ok {
					value = s
				}
			}
		}
		out[i] = Field{key, value}
	}
	return out
}

func toUint(x interface{}) (uint, bool) {
	switch v := x.(type) {
	case uint:
		return v, true
	case uint64:
		return uint(v), true
	case int:
		if v >= 0 {
			return uint(v), true
		}
	case int64:
		if v >= 0 {
			return uint(v), true
		}
	}
	return 0, false
}
