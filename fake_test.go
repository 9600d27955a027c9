package ldapauth

import (
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// fakeDirectory stands in for an LDAP server behind the LDAP dial seam.
type fakeDirectory struct {
	mu sync.Mutex

	// passwords maps bind DNs to their password.
	passwords map[string]string
	// search answers search requests. nil returns no entries.
	search func(req *ldap.SearchRequest) []*ldap.Entry
	// unreachable hosts fail to dial.
	unreachable map[string]bool
	// hang makes Bind block until the connection is closed.
	hang bool
	// bindDelay delays every Bind unless the connection is closed first.
	bindDelay time.Duration

	dialed   []string
	binds    []string
	searches []*ldap.SearchRequest
	whoami   int
	closed   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		passwords:   map[string]string{},
		unreachable: map[string]bool{},
	}
}

func (f *fakeDirectory) DialURL(rawURL string, _ ...ldap.DialOpt) (backendConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dialed = append(f.dialed, rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if f.unreachable[u.Host] {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return &fakeConn{dir: f, done: make(chan struct{})}, nil
}

func (f *fakeDirectory) DialWithTLSConfig(tc *tls.Config) ldap.DialOpt {
	return ldap.DialWithTLSConfig(tc)
}

func (f *fakeDirectory) DialWithTimeout(timeout time.Duration) ldap.DialOpt {
	return ldap.DialWithDialer(&net.Dialer{Timeout: timeout})
}

func (f *fakeDirectory) snapshot() (dialed, binds []string, searches []*ldap.SearchRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialed...), append([]string(nil), f.binds...), append([]*ldap.SearchRequest(nil), f.searches...)
}

type fakeConn struct {
	dir   *fakeDirectory
	done  chan struct{}
	once  sync.Once
	bound string
}

func (c *fakeConn) Bind(username, password string) error {
	c.dir.mu.Lock()
	c.dir.binds = append(c.dir.binds, username)
	hang, delay := c.dir.hang, c.dir.bindDelay
	want, ok := c.dir.passwords[username]
	c.dir.mu.Unlock()

	if hang {
		<-c.done
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.done:
			return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
		}
	}
	if !ok || want != password {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}
	c.bound = username
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.dir.mu.Lock()
		c.dir.closed++
		c.dir.mu.Unlock()
	})
	return nil
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.dir.mu.Lock()
	c.dir.searches = append(c.dir.searches, req)
	search := c.dir.search
	c.dir.mu.Unlock()

	if c.bound == "" {
		return nil, ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("not bound"))
	}
	result := &ldap.SearchResult{}
	if search != nil {
		result.Entries = search(req)
	}
	return result, nil
}

func (c *fakeConn) StartTLS(_ *tls.Config) error {
	return nil
}

func (c *fakeConn) SetTimeout(_ time.Duration) {}

func (c *fakeConn) WhoAmI(_ []ldap.Control) (*ldap.WhoAmIResult, error) {
	c.dir.mu.Lock()
	c.dir.whoami++
	c.dir.mu.Unlock()
	return &ldap.WhoAmIResult{AuthzID: "dn:" + c.bound}, nil
}
