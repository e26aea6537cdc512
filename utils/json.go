package utils

import (
	"encoding/json"
)

// MarshalToRaw returns nil for a nil input so optional JSON columns stay NULL.
func MarshalToRaw(input any) ([]byte, error) {
	if input == nil {
		return nil, nil
	}
	return json.Marshal(input)
}
