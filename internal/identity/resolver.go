// Package identity maps chat users to the people the backend knows about.
package identity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mapping associates chat user IDs with backend speaker IDs.
type Mapping map[string]string

// MappingParseError reports a user mapping that could not be decoded.
type MappingParseError struct {
	Err error
}

// Error implements the error interface.
func (e *MappingParseError) Error() string {
	return fmt.Sprintf("invalid user mapping: %v", e.Err)
}

// Unwrap returns the underlying decode error.
func (e *MappingParseError) Unwrap() error {
	return e.Err
}

// ParseMapping decodes a JSON object of chat user ID to speaker ID.
// An empty string yields an empty mapping. On failure the returned mapping is
// empty, never nil, so callers may fall back to it directly.
func ParseMapping(raw string) (Mapping, error) {
	if strings.TrimSpace(raw) == "" {
		return Mapping{}, nil
	}

	var m Mapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Mapping{}, &MappingParseError{Err: err}
	}
	if m == nil {
		// "null" decodes without error.
		return Mapping{}, nil
	}

	return m, nil
}

// Resolver looks up the backend speaker for a chat user.
type Resolver struct {
	mapping Mapping
}

// NewResolver creates a resolver over a copy of mapping.
func NewResolver(mapping Mapping) *Resolver {
	m := make(Mapping, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return &Resolver{mapping: m}
}

// Resolve returns the speaker ID for chatUserID, if one is configured.
func (r *Resolver) Resolve(chatUserID string) (string, bool) {
	speaker, ok := r.mapping[chatUserID]
	return speaker, ok
}

// Len returns the number of mapped users.
func (r *Resolver) Len() int {
	return len(r.mapping)
}
