package types

import (
	"fmt"
	"strings"
)

// Principal is a stable identity that can own records, hold a role, and be
// granted access. The canonical form is a lowercase 0x-prefixed 20-byte hex
// address. ParsePrincipal is the only way to construct one: every ingestion
// boundary (credential source, grant input, admin input) must normalize
// through it so that two spellings of the same address never compare unequal.
type Principal string

const principalHexLen = 40

// ParsePrincipal validates a raw identifier and returns its canonical form.
func ParsePrincipal(raw string) (Principal, error) {
	s := strings.TrimSpace(raw)
	if len(s) != principalHexLen+2 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", NewValidationError(ErrCodeInvalidPrincipal,
			fmt.Sprintf("principal must be a 0x-prefixed %d-character hex address", principalHexLen))
	}
	body := strings.ToLower(s[2:])
	for _, c := range body {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", NewValidationError(ErrCodeInvalidPrincipal,
				fmt.Sprintf("principal contains non-hex character %q", c))
		}
	}
	return Principal("0x" + body), nil
}

// String returns the canonical string form.
func (p Principal) String() string {
	return string(p)
}

// IsZero reports whether the principal is unset.
func (p Principal) IsZero() bool {
	return p == ""
}
