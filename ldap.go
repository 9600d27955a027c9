package ldapauth

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAP dials directory servers. Tests replace it with a fake.
type LDAP interface {
	DialURL(url string, opts ...ldap.DialOpt) (backendConnection, error)
	DialWithTLSConfig(tc *tls.Config) ldap.DialOpt
	DialWithTimeout(timeout time.Duration) ldap.DialOpt
}

type ldapImpl struct{}

func (l *ldapImpl) DialURL(url string, opts ...ldap.DialOpt) (backendConnection, error) {
	return ldap.DialURL(url, opts...)
}

func (l *ldapImpl) DialWithTLSConfig(tc *tls.Config) ldap.DialOpt {
	return ldap.DialWithTLSConfig(tc)
}

func (l *ldapImpl) DialWithTimeout(timeout time.Duration) ldap.DialOpt {
	return ldap.DialWithDialer(&net.Dialer{Timeout: timeout})
}

// backendConnection is the subset of *ldap.Conn used here.
type backendConnection interface {
	Bind(username, password string) error
	Close() error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	StartTLS(config *tls.Config) error
	SetTimeout(timeout time.Duration)
	WhoAmI(controls []ldap.Control) (*ldap.WhoAmIResult, error)
}
