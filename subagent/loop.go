package subagent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Signature identifies a tool call by name and argument hash.
func Signature(name string, args json.RawMessage) string {
	h := sha256.Sum256(args)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// DetectLoop reports whether the last window signatures repeat a pattern of
// length 1, 2 or 3.
func DetectLoop(sigs []string, window int) bool {
	if window <= 0 || len(sigs) < window {
		return false
	}
	recent := sigs[len(sigs)-window:]
	for n := 1; n <= 3; n++ {
		if window%n != 0 || window == n {
			continue
		}
		match := true
		for i := n; i < window && match; i++ {
			match = recent[i] == recent[i%n]
		}
		if match {
			return true
		}
	}
	return false
}
