package schema

import "encoding/json"

// KeySet is an ordered set of data-flow keys. Duplicates collapse on decode.
type KeySet []string

// NewKeySet builds a set, dropping duplicates.
func NewKeySet(keys ...string) KeySet {
	var s KeySet
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		s = append(s, k)
	}
	return s
}

func (s KeySet) Contains(key string) bool {
	for _, k := range s {
		if k == key {
			return true
		}
	}
	return false
}

func (s KeySet) Clone() KeySet {
	if s == nil {
		return nil
	}
	out := make(KeySet, len(s))
	copy(out, s)
	return out
}

func (s KeySet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

func (s *KeySet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewKeySet(keys...)
	return nil
}
