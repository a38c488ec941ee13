// Package models contains the data structures shared by the feed client and the
// development API server.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque entity identifier. The REST API emits numeric ids, but the client
// never does arithmetic on them, so they are carried as strings.
type ID string

// IDFromUint converts a database primary key into an ID.
func IDFromUint(v uint) ID {
	return ID(strconv.FormatUint(uint64(v), 10))
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Uint parses the id as a database primary key.
func (id ID) Uint() (uint, error) {
	v, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q is not numeric: %w", string(id), err)
	}
	return uint(v), nil
}

func (id ID) numeric() bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MarshalJSON emits all-digit ids as JSON numbers and anything else as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts both JSON numbers and JSON strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// IDPtr returns a pointer to a copy of id.
func IDPtr(id ID) *ID {
	return &id
}
