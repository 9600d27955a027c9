package ldapauth

import (
	"context"
	"log/slog"
)

// sessionClient opens an authenticated session and, when a search is
// configured, sends it as a separate request. Output is LDIF.
type sessionClient struct {
	client *Client
}

func (s *sessionClient) Authenticate(ctx context.Context, dn, password string, search *SearchSpec) (*DirectoryResult, error) {
	conn, err := s.client.Connect(ctx, s.client.config.Servers)
	if err != nil {
		return &DirectoryResult{}, &BindError{DN: dn, Cause: err}
	}
	defer conn.Close()

	if err := conn.Bind(dn, password); err != nil {
		return &DirectoryResult{}, err
	}

	if search == nil {
		// Identity check only. Servers without the Who Am I? extension
		// still accepted the bind, which is all that is required.
		authzID, err := conn.WhoAmI()
		if err != nil {
			if ctx.Err() != nil {
				return &DirectoryResult{}, &BindError{DN: dn, Cause: ctx.Err()}
			}
			s.client.logger.Debug("ldap_whoami_unavailable", slog.String("error", err.Error()))
		} else {
			s.client.logger.Debug("ldap_whoami", slog.String("authz_id", authzID))
		}
		return &DirectoryResult{Bound: true}, nil
	}

	entries, err := conn.Search(search)
	if err != nil {
		return &DirectoryResult{}, &BindError{DN: dn, Cause: err}
	}
	return &DirectoryResult{
		Bound:   true,
		Entries: entries,
		Output:  FormatLDIF(entries),
	}, nil
}
