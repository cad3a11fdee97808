package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID identifies a node, a trigger or a workflow. Generated documents use
// either JSON numbers or JSON strings for ids; ID keeps whichever form it was
// decoded from. Integral numbers written with a fraction or an exponent,
// such as 1.0 or 1e2, are normalised to their plain integer text.
type ID struct {
	raw     string
	numeric bool
}

// IntID builds a numeric id.
func IntID(n int) ID {
	return ID{raw: strconv.Itoa(n), numeric: true}
}

// StringID builds a string id.
func StringID(s string) ID {
	return ID{raw: s}
}

// TriggerID is the id reserved for the workflow trigger.
var TriggerID = IntID(0)

func (id ID) String() string { return id.raw }

// IsZero reports whether the id was never set.
func (id ID) IsZero() bool { return id.raw == "" && !id.numeric }

// Numeric reports whether the id is encoded as a JSON number.
func (id ID) Numeric() bool { return id.numeric }

// Same compares ids by their textual form, so IntID(3) and StringID("3")
// address the same node. String ids are not normalised: StringID("1.0")
// differs from IntID(1).
func (id ID) Same(other ID) bool { return id.raw == other.raw }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.raw), nil
	}
	return json.Marshal(id.raw)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID{raw: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or a string: %w", err)
	}
	*id = ID{raw: canonicalNumber(n.String()), numeric: true}
	return nil
}

func canonicalNumber(s string) string {
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return s
	}
	return strconv.FormatInt(int64(f), 10)
}
