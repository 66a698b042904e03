package value

import "encoding/json"

// ParseText attempts to JSON-decode text into a Value; on failure the text
// is taken verbatim as a raw string. Numbers prefer an integer
// representation when losslessly representable, else float (see
// UnmarshalJSON/FromInterface).
func ParseText(text string) Value {
	var v Value
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return String(text)
}
