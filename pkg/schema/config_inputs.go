package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConfigInputs is an ordered string mapping. Key order follows the document
// the inputs were decoded from, or insertion order for new keys.
//
// Values decoded from JSON numbers, booleans, arrays or objects are exposed
// as their JSON text and written back in their original form until they are
// changed.
type ConfigInputs struct {
	keys   []string
	values map[string]string
	raw    map[string]json.RawMessage
}

// NewConfigInputs builds inputs from alternating key/value pairs.
func NewConfigInputs(pairs ...string) ConfigInputs {
	var c ConfigInputs
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Set(pairs[i], pairs[i+1])
	}
	return c
}

func (c ConfigInputs) Len() int { return len(c.keys) }

// Keys returns the keys in order.
func (c ConfigInputs) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c ConfigInputs) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c ConfigInputs) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Set assigns a value, appending the key if it is new.
func (c *ConfigInputs) Set(key, value string) {
	if c.values == nil {
		c.values = make(map[string]string)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Map returns an unordered copy.
func (c ConfigInputs) Map() map[string]string {
	out := make(map[string]string, len(c.keys))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns a copy that shares no storage with c.
func (c ConfigInputs) Clone() ConfigInputs {
	if c.keys == nil {
		return ConfigInputs{}
	}
	out := ConfigInputs{
		keys:   make([]string, len(c.keys)),
		values: make(map[string]string, len(c.values)),
	}
	copy(out.keys, c.keys)
	for k, v := range c.values {
		out.values[k] = v
	}
	if c.raw != nil {
		out.raw = make(map[string]json.RawMessage, len(c.raw))
		for k, r := range c.raw {
			out.raw[k] = r
		}
	}
	return out
}

// Equal compares keys, order and values.
func (c ConfigInputs) Equal(other ConfigInputs) bool {
	if len(c.keys) != len(other.keys) {
		return false
	}
	for i, k := range c.keys {
		if other.keys[i] != k || other.values[k] != c.values[k] {
			return false
		}
	}
	return true
}

// Empty reports whether there are no keys. A key with an empty value still
// counts as present.
func (c ConfigInputs) Empty() bool { return len(c.keys) == 0 }

func (c ConfigInputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		if r, ok := c.raw[k]; ok && string(r) == c.values[k] {
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(r)
			continue
		}
		vb, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps document key order. Non-string values are kept as
// their JSON text so a generated number or boolean is not lost. A null
// value decodes as the empty string.
func (c *ConfigInputs) UnmarshalJSON(data []byte) error {
	*c = ConfigInputs{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("config_inputs must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("config_inputs: unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("config_inputs[%s]: %w", key, err)
		}
		v, text := rawToString(raw)
		c.Set(key, v)
		if !text {
			if c.raw == nil {
				c.raw = make(map[string]json.RawMessage)
			}
			c.raw[key] = json.RawMessage(v)
		}
	}
	_, err = dec.Token()
	return err
}

// rawToString reports false when raw is neither a string nor null.
func rawToString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), false
}
