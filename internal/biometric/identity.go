package biometric

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxIdentityLength = 255

// NormalizeIdentityID trims and NFC-normalizes an identity ID so that
// visually identical IDs share one enrollment.
func NormalizeIdentityID(id string) (string, error) {
	id = norm.NFC.String(strings.TrimSpace(id))
	if id == "" {
		return "", newError(KindInput, ErrInvalidIdentity, "Identity id is required")
	}
	if len(id) > maxIdentityLength {
		return "", newError(KindInput, ErrInvalidIdentity, "Identity id is too long")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", newError(KindInput, ErrInvalidIdentity, "Identity id contains control characters")
		}
	}
	return id, nil
}
