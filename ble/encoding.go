package ble

import (
	"errors"
	"fmt"
	"strings"
)

// IdentifierSeparator joins scan identifiers into the single string the
// transport's scan primitive accepts.
const IdentifierSeparator = ","

var (
	ErrNoIdentifiers         = errors.New("no identifiers to scan for")
	ErrEmptyIdentifier       = errors.New("empty identifier")
	ErrSeparatorInIdentifier = errors.New("identifier contains the scan separator")
)

// EncodeIdentifiers joins ids in order. Identifiers that would make the
// joined form ambiguous are rejected rather than rewritten.
func EncodeIdentifiers(ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrNoIdentifiers
	}
	for i, id := range ids {
		if id == "" {
			return "", fmt.Errorf("identifier %d: %w", i, ErrEmptyIdentifier)
		}
		if strings.Contains(id, IdentifierSeparator) {
			return "", fmt.Errorf("identifier %q: %w", id, ErrSeparatorInIdentifier)
		}
	}
	return strings.Join(ids, IdentifierSeparator), nil
}

// DecodeIdentifiers is the transport-side inverse of EncodeIdentifiers
func DecodeIdentifiers(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, IdentifierSeparator)
}
