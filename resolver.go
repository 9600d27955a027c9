package ldapauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Resolver computes the DN the user binds as.
type Resolver struct {
	config *Config
	client DirectoryClient
	logger *slog.Logger
}

func NewResolver(config *Config, client DirectoryClient, logger *slog.Logger) *Resolver {
	return &Resolver{config: config, client: client, logger: logger}
}

// ResolveUserDN renders USERDN for username, or, in service-account mode,
// looks the user up and returns the DN of the single matching entry. Any
// other number of matches yields ErrIdentityNotFound.
func (r *Resolver) ResolveUserDN(ctx context.Context, username string) (string, error) {
	if r.config.UserDN != "" {
		escaped := EscapeDN(username)
		r.logger.Debug("username_escaped",
			slog.String("raw", username),
			slog.String("escaped", escaped))
		return renderTemplate("USERDN", r.config.UserDN, templateData{Username: escaped})
	}

	lookup := &SearchSpec{
		BaseDN: r.config.lookupBase(),
		Scope:  "sub",
		Filter: fmt.Sprintf("(%s=%s)", r.config.LookupAttr, EscapeFilter(username)),
		Attrs:  []string{"dn"},
	}
	r.logger.Debug("user_lookup",
		slog.String("base_dn", lookup.BaseDN),
		slog.String("filter", lookup.Filter))

	result, err := r.client.Authenticate(ctx, r.config.BindDN, r.config.BindPass, lookup)
	if err != nil {
		return "", errors.Wrap(err, "service account lookup failed")
	}
	if len(result.Entries) != 1 {
		r.logger.Debug("user_lookup_mismatch", slog.Int("entries", len(result.Entries)))
		return "", errors.Wrapf(ErrIdentityNotFound, "no or multiple results for %s", username)
	}
	return result.Entries[0].DN, nil
}
