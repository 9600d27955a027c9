package ldapauth

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeDN escapes a value for use inside a DN attribute value.
//
// The characters , \ # + < > ; " = are escaped wherever they appear, as are
// a leading or trailing space. A slash becomes \2f and a NUL byte \00. The
// result can be substituted into a DN template without changing the
// template's RDN structure.
func EscapeDN(raw string) string {
	if raw == "" {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)

	last := len(raw) - 1
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case ',', '\\', '#', '+', '<', '>', ';', '"', '=':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '/':
			b.WriteString(`\2f`)
		case ' ':
			if i == 0 || i == last {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// EscapeFilter escapes a value for use inside a search filter (RFC 4515).
func EscapeFilter(raw string) string {
	return ldap.EscapeFilter(raw)
}
