package ldapauth

import (
	"context"
	"io"
	"log/slog"
)

// Authenticator makes one accept/reject decision per call. It holds no
// state between calls.
type Authenticator struct {
	config   *Config
	client   DirectoryClient
	resolver *Resolver
	logger   *slog.Logger
}

// NewAuthenticator validates config and selects the directory client.
func NewAuthenticator(config *Config, opts ...ClientOption) (*Authenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := NewClient(config, opts...)
	directory, err := NewDirectoryClient(config.Client, client)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		config:   config,
		client:   directory,
		resolver: NewResolver(config, directory, client.logger),
		logger:   client.logger,
	}, nil
}

// Authenticate checks creds. Credential errors are returned before any
// connection is made. The lookup and the user bind share one deadline of
// the configured timeout.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) *Outcome {
	outcome := &Outcome{Username: creds.Username}

	if err := ValidateCredentials(creds, a.config.UsernamePattern); err != nil {
		return outcome.fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	userDN, err := a.resolver.ResolveUserDN(ctx, creds.Username)
	if err != nil {
		return outcome.fail(err)
	}
	a.logger.Debug("user_dn_resolved", slog.String("user_dn", userDN))

	search, err := a.authorizationSearch(creds.Username, userDN)
	if err != nil {
		return outcome.fail(err)
	}

	result, err := a.client.Authenticate(ctx, userDN, creds.Password, search)
	if result != nil {
		outcome.RawOutput = result.Output
		outcome.EntryCount = CountEntries(result.Output)
	}
	if err != nil {
		return outcome.fail(err)
	}

	if err := verifyResult(result, search != nil); err != nil {
		return outcome.fail(err)
	}
	outcome.Success = true
	return outcome
}

// authorizationSearch renders the configured search, or returns nil when
// none is configured. Template values are filter-escaped.
func (a *Authenticator) authorizationSearch(username, userDN string) (*SearchSpec, error) {
	if !a.config.SearchConfigured() {
		return nil, nil
	}
	filter, err := renderTemplate("FILTER", a.config.Filter, templateData{
		Username: EscapeFilter(username),
		UserDN:   EscapeFilter(userDN),
	})
	if err != nil {
		return nil, &ConfigError{Key: "FILTER", Reason: err.Error()}
	}
	return &SearchSpec{
		BaseDN: a.config.BaseDN,
		Scope:  a.config.Scope,
		Filter: filter,
		Attrs:  a.config.Attrs,
	}, nil
}

func (o *Outcome) fail(err error) *Outcome {
	o.Success = false
	o.Err = err
	o.Reason = reasonFor(err)
	return o
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
