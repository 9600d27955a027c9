package ldapauth

import (
	"bytes"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// ClientKind selects the DirectoryClient implementation.
type ClientKind string

const (
	ClientURLQuery ClientKind = "url-query"
	ClientSession  ClientKind = "session"
)

// clientAliases maps the names used by older deployments to client kinds.
var clientAliases = map[string]ClientKind{
	"curl":       ClientURLQuery,
	"ldapsearch": ClientSession,
}

// Config is the immutable configuration of one authentication invocation.
type Config struct {
	// Servers are LDAP URIs. The first is the primary, the rest are only
	// dialed when the previous ones cannot be reached.
	Servers []string

	// UserDN is a template rendering the user's DN from {{.Username}}.
	// Mutually exclusive with BindDN/BindPass.
	UserDN string

	// BindDN and BindPass are the service account used to look up the
	// user's DN.
	BindDN   string
	BindPass string
	// LookupBase is the base of the service-account lookup. Defaults to BaseDN.
	LookupBase string
	LookupAttr string `default:"uid"`

	// BaseDN, Scope and Filter describe the authorization search. Filter is
	// a template that may use {{.Username}} and {{.UserDN}}.
	BaseDN string
	Scope  string
	Filter string
	Attrs  []string

	UsernamePattern string
	Timeout         time.Duration
	Client          ClientKind `default:"url-query"`
	Debug           bool

	StartTLS bool
	Insecure bool
	// CustomCA is the path of a PEM bundle used to verify the server.
	CustomCA string

	// OnAuthSuccess and OnAuthFailure are shell commands run with the raw
	// directory output on stdin.
	OnAuthSuccess string
	OnAuthFailure string
	// OutputAttrs lists "attr:key" pairs printed on success as "key = value".
	OutputAttrs []string
}

// LoadConfig reads a KEY=value configuration file.
func LoadConfig(path string) (*Config, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, &ConfigError{Reason: errors.Wrapf(err, "cannot read %s", path).Error()}
	}
	return ParseConfig(values)
}

// ParseConfig builds a Config from configuration keys. It only fails on
// values that cannot be parsed; consistency is checked by Validate.
func ParseConfig(values map[string]string) (*Config, error) {
	c := &Config{
		Servers:         strings.Fields(values["SERVER"]),
		UserDN:          values["USERDN"],
		BindDN:          values["BINDDN"],
		BindPass:        values["BINDPASS"],
		LookupBase:      values["LOOKUP_BASEDN"],
		LookupAttr:      values["LOOKUP_ATTR"],
		BaseDN:          values["BASEDN"],
		Scope:           strings.ToLower(values["SCOPE"]),
		Filter:          values["FILTER"],
		Attrs:           splitList(values["ATTRS"]),
		UsernamePattern: values["USERNAME_PATTERN"],
		Client:          ClientKind(strings.ToLower(values["CLIENT"])),
		CustomCA:        values["TLS_CA_CERT"],
		OnAuthSuccess:   values["ON_AUTH_SUCCESS"],
		OnAuthFailure:   values["ON_AUTH_FAILURE"],
		OutputAttrs:     splitList(values["OUTPUT_ATTRS"]),
	}
	if kind, ok := clientAliases[string(c.Client)]; ok {
		c.Client = kind
	}

	var err error
	if c.Debug, err = parseBool("DEBUG", values["DEBUG"]); err != nil {
		return nil, err
	}
	if c.StartTLS, err = parseBool("START_TLS", values["START_TLS"]); err != nil {
		return nil, err
	}
	if c.Insecure, err = parseBool("TLS_INSECURE", values["TLS_INSECURE"]); err != nil {
		return nil, err
	}
	if c.Timeout, err = parseTimeout(values["TIMEOUT"]); err != nil {
		return nil, err
	}

	if err := defaults.Set(c); err != nil {
		return nil, errors.Wrap(err, "cannot apply configuration defaults")
	}
	return c, nil
}

// Validate checks completeness and consistency. The first violation is
// returned; no network activity happens here.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return &ConfigError{Key: "SERVER", Reason: "must be set"}
	}
	for _, server := range c.Servers {
		u, err := url.Parse(server)
		if err != nil {
			return &ConfigError{Key: "SERVER", Reason: errors.Wrapf(err, "cannot parse %q", server).Error()}
		}
		if u.Scheme != "ldap" && u.Scheme != "ldaps" {
			return &ConfigError{Key: "SERVER", Reason: "scheme must be ldap or ldaps in " + server}
		}
		if u.Host == "" {
			return &ConfigError{Key: "SERVER", Reason: "missing host in " + server}
		}
	}

	serviceAccount := c.BindDN != "" || c.BindPass != ""
	switch {
	case c.UserDN == "" && !serviceAccount:
		return &ConfigError{Key: "USERDN", Reason: "USERDN or BINDDN and BINDPASS must be set"}
	case c.UserDN != "" && serviceAccount:
		return &ConfigError{Key: "USERDN", Reason: "USERDN and BINDDN are mutually exclusive"}
	case serviceAccount && (c.BindDN == "" || c.BindPass == ""):
		return &ConfigError{Key: "BINDDN", Reason: "BINDDN and BINDPASS must be set together"}
	}

	if c.Timeout <= 0 {
		return &ConfigError{Key: "TIMEOUT", Reason: "must be a positive number of seconds"}
	}

	hasBase, hasScope, hasFilter := c.BaseDN != "", c.Scope != "", c.Filter != ""
	if hasBase != hasScope || hasBase != hasFilter {
		return &ConfigError{Key: "BASEDN", Reason: "BASEDN, SCOPE and FILTER must be set together"}
	}
	if hasScope {
		if _, ok := scopes[c.Scope]; !ok {
			return &ConfigError{Key: "SCOPE", Reason: "must be one of base, one, sub"}
		}
	}
	if len(c.Attrs) > 0 && !hasBase {
		return &ConfigError{Key: "ATTRS", Reason: "requires BASEDN, SCOPE and FILTER"}
	}

	if serviceAccount && c.lookupBase() == "" {
		return &ConfigError{Key: "LOOKUP_BASEDN", Reason: "service account lookup requires LOOKUP_BASEDN or BASEDN"}
	}

	if c.UserDN != "" {
		if _, err := renderTemplate("USERDN", c.UserDN, templateData{Username: "probe"}); err != nil {
			return &ConfigError{Key: "USERDN", Reason: err.Error()}
		}
	}
	if hasFilter {
		filter, err := renderTemplate("FILTER", c.Filter, templateData{Username: "probe", UserDN: "cn=probe"})
		if err != nil {
			return &ConfigError{Key: "FILTER", Reason: err.Error()}
		}
		if _, err := ldap.CompileFilter(filter); err != nil {
			return &ConfigError{Key: "FILTER", Reason: err.Error()}
		}
	}

	if c.UsernamePattern != "" {
		if _, err := compileUsernamePattern(c.UsernamePattern); err != nil {
			return &ConfigError{Key: "USERNAME_PATTERN", Reason: err.Error()}
		}
	}

	for _, pair := range c.OutputAttrs {
		if _, err := parseOutputAttr(pair); err != nil {
			return &ConfigError{Key: "OUTPUT_ATTRS", Reason: err.Error()}
		}
	}

	if c.Client != ClientURLQuery && c.Client != ClientSession {
		return &UnsupportedClientError{Kind: string(c.Client)}
	}
	return nil
}

// SearchConfigured reports whether an authorization search is configured.
func (c *Config) SearchConfigured() bool {
	return c.BaseDN != ""
}

// ServiceAccountMode reports whether the user DN is looked up with BindDN.
func (c *Config) ServiceAccountMode() bool {
	return c.UserDN == "" && c.BindDN != ""
}

func (c *Config) lookupBase() string {
	if c.LookupBase != "" {
		return c.LookupBase
	}
	return c.BaseDN
}

var scopes = map[string]int{
	"base": ldap.ScopeBaseObject,
	"one":  ldap.ScopeSingleLevel,
	"sub":  ldap.ScopeWholeSubtree,
}

// templateData is what USERDN and FILTER templates can reference. Values
// are escaped for the template's context before rendering.
type templateData struct {
	Username string
	UserDN   string
}

func renderTemplate(name, text string, data templateData) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", errors.Wrapf(err, "cannot parse %s template", name)
	}
	var rendered bytes.Buffer
	if err := t.Execute(&rendered, data); err != nil {
		return "", errors.Wrapf(err, "cannot execute %s template", name)
	}
	return rendered.String(), nil
}

func compileUsernamePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	}
	return false, &ConfigError{Key: key, Reason: "not a boolean: " + value}
}

// maxTimeoutSeconds is the largest number of seconds a time.Duration holds.
const maxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

// parseTimeout accepts a number of seconds ("3", "1.5") or a Go duration.
func parseTimeout(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) || math.Abs(seconds) >= maxTimeoutSeconds {
			return 0, &ConfigError{Key: "TIMEOUT", Reason: "not a number of seconds: " + value}
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Key: "TIMEOUT", Reason: "not a number of seconds: " + value}
	}
	return d, nil
}

func splitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
