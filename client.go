package ldapauth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"os"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// DirectoryClient binds as a DN and optionally runs one search on the same
// connection. Any failure, including an unreachable server or an expired
// deadline, is returned as a *BindError.
type DirectoryClient interface {
	Authenticate(ctx context.Context, dn, password string, search *SearchSpec) (*DirectoryResult, error)
}

// SearchSpec is a rendered search. Filter values must already be escaped.
type SearchSpec struct {
	BaseDN string
	Scope  string
	Filter string
	Attrs  []string
}

// DirectoryResult is what a DirectoryClient observed.
type DirectoryResult struct {
	Bound bool
	// Output is the textual rendering of Entries, empty without a search.
	Output  string
	Entries []*ldap.Entry
}

// NewDirectoryClient returns the DirectoryClient variant selected by kind.
func NewDirectoryClient(kind ClientKind, client *Client) (DirectoryClient, error) {
	switch kind {
	case ClientURLQuery:
		return &urlQueryClient{client: client}, nil
	case ClientSession:
		return &sessionClient{client: client}, nil
	default:
		return nil, &UnsupportedClientError{Kind: string(kind)}
	}
}

type Client struct {
	ldap   LDAP
	config *Config
	logger *slog.Logger
}

type Connection struct {
	conn   backendConnection
	client *Client
	// target is the URL that was dialed.
	target string
	stop   func() bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the dialer, mostly for tests.
func WithDialer(l LDAP) ClientOption {
	return func(c *Client) {
		c.ldap = l
	}
}

func NewClient(config *Config, opts ...ClientOption) *Client {
	c := &Client{
		config: config,
		ldap:   &ldapImpl{},
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the targets in order and returns the first connection that
// succeeds. Only dialing fails over; nothing is sent before a connection is
// established. The connection is closed when ctx is done.
func (c *Client) Connect(ctx context.Context, targets []string) (*Connection, error) {
	tlsConfig, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}

	var multiErr error
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			multiErr = multierror.Append(multiErr, err)
			break
		}
		conn, err := c.dialLDAP(ctx, target, tlsConfig)
		if err != nil {
			c.logger.Debug("ldap_dial_failed",
				slog.String("server", redactURL(target)),
				slog.String("error", err.Error()))
			multiErr = multierror.Append(multiErr, err)
			continue
		}
		connection := &Connection{conn: conn, client: c, target: target}
		connection.stop = context.AfterFunc(ctx, func() {
			_ = conn.Close()
		})
		return connection, nil
	}
	if multiErr == nil {
		multiErr = errors.New("no server configured")
	}
	return nil, multiErr
}

func (conn *Connection) Close() {
	if conn.stop != nil {
		conn.stop()
	}
	_ = conn.conn.Close()
}

// Bind authenticates the connection as dn.
func (conn *Connection) Bind(dn, password string) error {
	if err := conn.conn.Bind(dn, password); err != nil {
		return &BindError{DN: dn, Cause: err}
	}
	return nil
}

// Search runs spec on the bound connection.
func (conn *Connection) Search(spec *SearchSpec) ([]*ldap.Entry, error) {
	result, err := conn.conn.Search(&ldap.SearchRequest{
		BaseDN:     spec.BaseDN,
		Scope:      scopes[spec.Scope],
		Filter:     spec.Filter,
		Attributes: spec.Attrs,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "LDAP search under %s failed", spec.BaseDN)
	}
	return result.Entries, nil
}

// WhoAmI returns the authorization identity of the bound connection.
func (conn *Connection) WhoAmI() (string, error) {
	result, err := conn.conn.WhoAmI(nil)
	if err != nil {
		return "", errors.Wrap(err, "LDAP whoami failed")
	}
	return result.AuthzID, nil
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	tlsConfig := tls.Config{
		InsecureSkipVerify: c.config.Insecure, //nolint:gosec // opt-in via TLS_INSECURE
	}

	if c.config.CustomCA != "" {
		pem, err := os.ReadFile(c.config.CustomCA)
		if err != nil {
			return nil, &ConfigError{Key: "TLS_CA_CERT", Reason: err.Error()}
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(pem) {
			return nil, &ConfigError{Key: "TLS_CA_CERT", Reason: "error adding custom CA, check format"}
		}
		tlsConfig.RootCAs = caCertPool
	}
	return &tlsConfig, nil
}

func (c *Client) dialLDAP(ctx context.Context, ldapURL string, tlsConfig *tls.Config) (backendConnection, error) {
	timeout := c.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, errors.Wrapf(context.DeadlineExceeded, "cannot dial ldap url: %s", redactURL(ldapURL))
	}

	conn, err := c.ldap.DialURL(ldapURL, c.ldap.DialWithTLSConfig(tlsConfig), c.ldap.DialWithTimeout(timeout))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot dial ldap url: %s", redactURL(ldapURL))
	}

	if c.config.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "cannot start tls for ldap url: %s", redactURL(ldapURL))
		}
	}

	conn.SetTimeout(timeout)
	return conn, nil
}
