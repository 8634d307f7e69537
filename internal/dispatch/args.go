package dispatch

import (
	"encoding/json"
	"fmt"
)

// DecodeArg unmarshals args[index] into T. A missing argument yields the zero
// value and false.
func DecodeArg[T any](args []json.RawMessage, index int) (T, bool, error) {
	var value T
	if index >= len(args) || len(args[index]) == 0 || string(args[index]) == "null" {
		return value, false, nil
	}
	if err := json.Unmarshal(args[index], &value); err != nil {
		return value, false, fmt.Errorf("argument %d: %w", index, err)
	}
	return value, true, nil
}
