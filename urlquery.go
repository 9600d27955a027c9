package ldapauth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// LDAPURL is an RFC 4516 LDAP URL:
//
//	scheme://host/dn?attributes?scope?filter
//
// String percent-encodes every component, so a value can never spill into
// the next one.
type LDAPURL struct {
	Scheme string
	Host   string
	BaseDN string
	Attrs  []string
	Scope  string
	Filter string
}

// NewLDAPURL builds the URL for search against server. search may be nil.
func NewLDAPURL(server string, search *SearchSpec) (*LDAPURL, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse server %q", server)
	}
	l := &LDAPURL{Scheme: u.Scheme, Host: u.Host}
	if search != nil {
		l.BaseDN = search.BaseDN
		l.Attrs = search.Attrs
		l.Scope = search.Scope
		l.Filter = search.Filter
	}
	return l, nil
}

func (l *LDAPURL) String() string {
	var b strings.Builder
	b.WriteString(l.Scheme)
	b.WriteString("://")
	b.WriteString(l.Host)
	b.WriteByte('/')
	b.WriteString(escapeURLComponent(l.BaseDN))

	if len(l.Attrs) == 0 && l.Scope == "" && l.Filter == "" {
		return b.String()
	}
	attrs := make([]string, len(l.Attrs))
	for i, attr := range l.Attrs {
		attrs[i] = escapeURLComponent(attr)
	}
	b.WriteByte('?')
	b.WriteString(strings.Join(attrs, ","))
	b.WriteByte('?')
	b.WriteString(escapeURLComponent(l.Scope))
	b.WriteByte('?')
	b.WriteString(escapeURLComponent(l.Filter))
	return b.String()
}

// Search returns the search described by the URL, or nil if the URL has no
// base DN.
func (l *LDAPURL) Search() *SearchSpec {
	if l.BaseDN == "" {
		return nil
	}
	spec := &SearchSpec{
		BaseDN: l.BaseDN,
		Attrs:  l.Attrs,
		Scope:  l.Scope,
		Filter: l.Filter,
	}
	if spec.Scope == "" {
		spec.Scope = "base"
	}
	if spec.Filter == "" {
		spec.Filter = "(objectClass=*)"
	}
	return spec
}

// ParseLDAPURL parses an RFC 4516 LDAP URL. Extensions are not supported.
func ParseLDAPURL(raw string) (*LDAPURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse LDAP URL %q", raw)
	}
	if u.Scheme != "ldap" && u.Scheme != "ldaps" {
		return nil, errors.Errorf("unsupported LDAP URL scheme %q", u.Scheme)
	}
	l := &LDAPURL{
		Scheme: u.Scheme,
		Host:   u.Host,
		BaseDN: strings.TrimPrefix(u.Path, "/"),
	}
	if u.RawQuery == "" {
		return l, nil
	}

	parts := strings.Split(u.RawQuery, "?")
	if len(parts) > 3 {
		return nil, errors.Errorf("LDAP URL extensions are not supported: %q", raw)
	}
	decoded := make([]string, 3)
	for i, part := range parts {
		if decoded[i], err = url.PathUnescape(part); err != nil {
			return nil, errors.Wrapf(err, "cannot decode LDAP URL component %q", part)
		}
	}
	if parts[0] != "" {
		for _, attr := range strings.Split(parts[0], ",") {
			name, err := url.PathUnescape(attr)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot decode LDAP URL attribute %q", attr)
			}
			l.Attrs = append(l.Attrs, name)
		}
	}
	l.Scope = decoded[1]
	l.Filter = decoded[2]
	if l.Scope != "" {
		if _, ok := scopes[l.Scope]; !ok {
			return nil, errors.Errorf("invalid LDAP URL scope %q", l.Scope)
		}
	}
	return l, nil
}

// escapeURLComponent percent-encodes everything except unreserved
// characters and the sub-delimiters that carry no meaning inside an LDAP
// URL component. '?' and ',' are always encoded.
func escapeURLComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURLSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isURLSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!$&'()*+;=:@", c) >= 0
}

// redactURL strips user information from a URL before logging it.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

// urlQueryClient sends the bind and the search described by one LDAP URL
// over a single connection. Output is rendered the way curl prints LDAP
// results.
type urlQueryClient struct {
	client *Client
}

func (u *urlQueryClient) Authenticate(ctx context.Context, dn, password string, search *SearchSpec) (*DirectoryResult, error) {
	targets := make([]string, 0, len(u.client.config.Servers))
	for _, server := range u.client.config.Servers {
		target, err := NewLDAPURL(server, search)
		if err != nil {
			return &DirectoryResult{}, &BindError{DN: dn, Cause: err}
		}
		targets = append(targets, target.String())
	}

	conn, err := u.client.Connect(ctx, targets)
	if err != nil {
		return &DirectoryResult{}, &BindError{DN: dn, Cause: err}
	}
	defer conn.Close()

	query, err := ParseLDAPURL(conn.target)
	if err != nil {
		return &DirectoryResult{}, &BindError{DN: dn, Cause: err}
	}
	u.client.logger.Debug("ldap_url_request", slog.String("url", conn.target))

	if err := conn.Bind(dn, password); err != nil {
		return &DirectoryResult{}, err
	}
	result := &DirectoryResult{Bound: true}

	spec := query.Search()
	if spec == nil {
		return result, nil
	}
	entries, err := conn.Search(spec)
	if err != nil {
		return &DirectoryResult{}, &BindError{DN: dn, Cause: err}
	}
	result.Entries = entries
	result.Output = FormatURLOutput(entries)
	return result, nil
}
