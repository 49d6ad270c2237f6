// Package auditjson serializes audit-log value snapshots. Snapshots
// are flat maps of string to primitive, stored as opaque JSON blobs;
// the narrow surface keeps the audit boundary stable regardless of how
// domain types evolve.
package auditjson

import "encoding/json"

// Values is a flat snapshot of audited state
type Values map[string]interface{}

// Marshal encodes a snapshot to its stored JSON form. A nil or empty
// snapshot encodes to the empty string.
func Marshal(v Values) string {
	if len(v) == 0 {
		return ""
	}

	data, err := json.Marshal(v)
	if err != nil {
		// Snapshots only hold primitives; an encode failure means a
		// caller bug, and the audit write must still proceed.
		return ""
	}

	return string(data)
}

// Unmarshal decodes a stored snapshot. Invalid or empty JSON yields a
// nil snapshot rather than an error; a corrupt audit blob must never
// fail a read path.
func Unmarshal(s string) Values {
	if s == "" {
		return nil
	}

	var v Values
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}

	return v
}
