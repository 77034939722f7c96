package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BondOptions is the ordered bonding option mapping. Values are kept in
// their sysfs string form; insertion order is preserved on output.
type BondOptions struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewBondOptions returns an empty option mapping.
func NewBondOptions() *BondOptions {
	return &BondOptions{m: orderedmap.New[string, string]()}
}

// BondOptionsFrom builds options from alternating key, value pairs.
func BondOptionsFrom(kv ...string) *BondOptions {
	o := NewBondOptions()
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i], kv[i+1])
	}
	return o
}

func (o *BondOptions) init() {
	if o.m == nil {
		o.m = orderedmap.New[string, string]()
	}
}

// Set stores value under key, keeping the original position of an
// existing key.
func (o *BondOptions) Set(key, value string) {
	o.init()
	o.m.Set(key, value)
}

// Get returns the value stored under key.
func (o *BondOptions) Get(key string) (string, bool) {
	if o == nil || o.m == nil {
		return "", false
	}
	return o.m.Get(key)
}

// Delete removes key.
func (o *BondOptions) Delete(key string) {
	if o == nil || o.m == nil {
		return
	}
	o.m.Delete(key)
}

// Len returns the number of options.
func (o *BondOptions) Len() int {
	if o == nil || o.m == nil {
		return 0
	}
	return o.m.Len()
}

// Keys returns option names in insertion order.
func (o *BondOptions) Keys() []string {
	if o == nil || o.m == nil {
		return nil
	}
	keys := make([]string, 0, o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// SortedPairs returns "key=value" strings sorted by key. Used wherever
// option order must not affect equality.
func (o *BondOptions) SortedPairs() []string {
	if o.Len() == 0 {
		return nil
	}
	pairs := make([]string, 0, o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		pairs = append(pairs, pair.Key+"="+pair.Value)
	}
	sort.Strings(pairs)
	return pairs
}

// Clone returns a deep copy. Cloning nil yields nil.
func (o *BondOptions) Clone() *BondOptions {
	if o == nil {
		return nil
	}
	c := NewBondOptions()
	if o.m != nil {
		for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
			c.m.Set(pair.Key, pair.Value)
		}
	}
	return c
}

// MarshalJSON emits options as an object in insertion order.
func (o *BondOptions) MarshalJSON() ([]byte, error) {
	o.init()
	return o.m.MarshalJSON()
}

// UnmarshalJSON accepts string, number and boolean values, storing each
// in its string form.
func (o *BondOptions) UnmarshalJSON(b []byte) error {
	raw := orderedmap.New[string, any]()
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	o.m = orderedmap.New[string, string]()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		s, err := optionString(pair.Value)
		if err != nil {
			return fmt.Errorf("bond option %s: %w", pair.Key, err)
		}
		o.m.Set(pair.Key, s)
	}
	return nil
}

func optionString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}
