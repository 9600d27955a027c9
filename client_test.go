package ldapauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ConnectCollectsDialErrors(t *testing.T) {
	dir := newFakeDirectory()
	dir.unreachable["ldap1.example.com"] = true
	dir.unreachable["ldap2.example.com"] = true

	client := NewClient(validConfig(), WithDialer(dir))
	_, err := client.Connect(context.Background(), []string{"ldap://ldap1.example.com", "ldap://ldap2.example.com"})
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
	assert.Contains(t, err.Error(), "ldap1.example.com")
	assert.Contains(t, err.Error(), "ldap2.example.com")
}

func TestClient_ConnectWithExpiredContext(t *testing.T) {
	dir := newFakeDirectory()
	client := NewClient(validConfig(), WithDialer(dir))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Connect(ctx, []string{"ldap://ldap.example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	dialed, _, _ := dir.snapshot()
	assert.Empty(t, dialed)
}

func TestClient_ConnectionClosedWhenContextEnds(t *testing.T) {
	dir := newFakeDirectory()
	client := NewClient(validConfig(), WithDialer(dir))

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := client.Connect(ctx, []string{"ldap://ldap.example.com"})
	require.NoError(t, err)

	cancel()
	fake := conn.conn.(*fakeConn)
	select {
	case <-fake.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after context cancellation")
	}

	conn.Close()
	assert.Equal(t, 1, dir.closed)
}

func TestClient_TLSConfig(t *testing.T) {
	t.Run("insecure", func(t *testing.T) {
		config := validConfig()
		config.Insecure = true

		tlsConfig, err := NewClient(config).tlsConfig()
		require.NoError(t, err)
		assert.True(t, tlsConfig.InsecureSkipVerify)
		assert.Nil(t, tlsConfig.RootCAs)
	})

	t.Run("missing CA file", func(t *testing.T) {
		config := validConfig()
		config.CustomCA = filepath.Join(t.TempDir(), "missing.pem")

		_, err := NewClient(config).tlsConfig()
		require.Error(t, err)
		assert.Equal(t, ExitUsage, ExitCodeFor(err))
	})

	t.Run("invalid CA file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
		config := validConfig()
		config.CustomCA = path

		_, err := NewClient(config).tlsConfig()
		var configErr *ConfigError
		require.True(t, errors.As(err, &configErr))
		assert.Equal(t, "TLS_CA_CERT", configErr.Key)
	})
}

func TestNewDirectoryClient(t *testing.T) {
	client := NewClient(validConfig())

	dc, err := NewDirectoryClient(ClientURLQuery, client)
	require.NoError(t, err)
	assert.IsType(t, &urlQueryClient{}, dc)

	dc, err = NewDirectoryClient(ClientSession, client)
	require.NoError(t, err)
	assert.IsType(t, &sessionClient{}, dc)

	_, err = NewDirectoryClient("ldapwhoami", client)
	var clientErr *UnsupportedClientError
	assert.True(t, errors.As(err, &clientErr))
}

func TestSessionClient_RefusedBindSkipsSearch(t *testing.T) {
	dir := newFakeDirectory()
	client := NewClient(validConfig(), WithDialer(dir))
	session := &sessionClient{client: client}

	result, err := session.Authenticate(context.Background(), "uid=nobody", "x", &SearchSpec{BaseDN: "dc=example,dc=com", Scope: "sub", Filter: "(uid=x)"})
	require.Error(t, err)
	assert.False(t, result.Bound)

	var bindErr *BindError
	assert.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "uid=nobody", bindErr.DN)

	_, _, searches := dir.snapshot()
	assert.Empty(t, searches)
}
