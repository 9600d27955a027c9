package ldapauth

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
)

// FormatLDIF renders entries as LDIF content records. Values that are not
// safe LDIF strings are base64 encoded; objectSid is rendered as S-1-…
func FormatLDIF(entries []*ldap.Entry) string {
	var b strings.Builder
	for i, entry := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeLDIFLine(&b, "dn", entry.DN)
		for _, attr := range entry.Attributes {
			for j, value := range attr.Values {
				if strings.EqualFold(attr.Name, "objectSid") && j < len(attr.ByteValues) {
					if sid, err := sidToString(attr.ByteValues[j]); err == nil {
						value = sid
					}
				}
				writeLDIFLine(&b, attr.Name, value)
			}
		}
	}
	return b.String()
}

// FormatURLOutput renders entries the way curl prints LDAP URL results.
func FormatURLOutput(entries []*ldap.Entry) string {
	var b strings.Builder
	for i, entry := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "DN: %s\n", entry.DN)
		for _, attr := range entry.Attributes {
			for _, value := range attr.Values {
				if !isSafeLDIFString(value) {
					fmt.Fprintf(&b, "\t%s:: %s\n", attr.Name, base64.StdEncoding.EncodeToString([]byte(value)))
					continue
				}
				fmt.Fprintf(&b, "\t%s: %s\n", attr.Name, value)
			}
		}
	}
	return b.String()
}

func writeLDIFLine(b *strings.Builder, name, value string) {
	if isSafeLDIFString(value) {
		fmt.Fprintf(b, "%s: %s\n", name, value)
		return
	}
	fmt.Fprintf(b, "%s:: %s\n", name, base64.StdEncoding.EncodeToString([]byte(value)))
}

// isSafeLDIFString follows the SAFE-STRING production of RFC 2849, with
// UTF-8 text allowed as ldapsearch does.
func isSafeLDIFString(s string) bool {
	if s == "" {
		return true
	}
	if !utf8.ValidString(s) {
		return false
	}
	switch s[0] {
	case ' ', ':', '<':
		return false
	}
	if s[len(s)-1] == ' ' {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0, '\n', '\r':
			return false
		}
	}
	return true
}

// Record is one entry read back from directory output.
type Record struct {
	DN         string
	Attributes map[string][]string
}

// Get returns the first value of attr, matched case-insensitively.
func (r *Record) Get(attr string) string {
	for name, values := range r.Attributes {
		if strings.EqualFold(name, attr) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// GetAll returns every value of attr, matched case-insensitively.
func (r *Record) GetAll(attr string) []string {
	var values []string
	for name, v := range r.Attributes {
		if strings.EqualFold(name, attr) {
			values = append(values, v...)
		}
	}
	return values
}

// ParseOutput reads both output styles (LDIF and curl) back into records.
// Attribute lines may be indented; "name:: value" is base64 decoded and a
// line starting with "dn:" in any case opens a new record.
func ParseOutput(raw string) ([]*Record, error) {
	var (
		records []*Record
		current *Record
	)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, err := parseOutputLine(line)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(name, "dn") {
			current = &Record{DN: value, Attributes: map[string][]string{}}
			records = append(records, current)
			continue
		}
		if current == nil {
			return nil, errors.Errorf("attribute %q before any dn line", name)
		}
		current.Attributes[name] = append(current.Attributes[name], value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read directory output")
	}
	return records, nil
}

func parseOutputLine(line string) (string, string, error) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", errors.Errorf("malformed output line %q", line)
	}
	if strings.HasPrefix(value, ":") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value[1:]))
		if err != nil {
			return "", "", errors.Wrapf(err, "cannot decode value of %s", name)
		}
		return name, string(decoded), nil
	}
	return name, strings.TrimPrefix(value, " "), nil
}

func sidToString(b []byte) (string, error) {
	reader := bytes.NewReader(b)

	var revision, subAuthorityCount uint8
	var identifierAuthorityParts [3]uint16

	if err := binary.Read(reader, binary.LittleEndian, &revision); err != nil {
		return "", errors.Wrapf(err, "SID %#v convert failed reading Revision", b)
	}

	if err := binary.Read(reader, binary.LittleEndian, &subAuthorityCount); err != nil {
		return "", errors.Wrapf(err, "SID %#v convert failed reading SubAuthorityCount", b)
	}

	if err := binary.Read(reader, binary.BigEndian, &identifierAuthorityParts); err != nil {
		return "", errors.Wrapf(err, "SID %#v convert failed reading IdentifierAuthority", b)
	}
	identifierAuthority := (uint64(identifierAuthorityParts[0]) << 32) + (uint64(identifierAuthorityParts[1]) << 16) + uint64(identifierAuthorityParts[2])

	subAuthority := make([]uint32, subAuthorityCount)
	if err := binary.Read(reader, binary.LittleEndian, &subAuthority); err != nil {
		return "", errors.Wrapf(err, "SID %#v convert failed reading SubAuthority", b)
	}

	var result strings.Builder
	fmt.Fprintf(&result, "S-%d-%d", revision, identifierAuthority)
	for _, subAuthorityPart := range subAuthority {
		fmt.Fprintf(&result, "-%d", subAuthorityPart)
	}

	return result.String(), nil
}

func parseCN(dn string) string {
	parsedDN, err := ldap.ParseDN(dn)
	if err != nil || len(parsedDN.RDNs) == 0 {
		// Already a CN
		return dn
	}

	for _, rdn := range parsedDN.RDNs {
		for _, rdnAttr := range rdn.Attributes {
			if strings.EqualFold(rdnAttr.Type, "CN") {
				return rdnAttr.Value
			}
		}
	}
	return dn
}
