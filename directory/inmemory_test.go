package directory_test

import (
	"context"
	"testing"

	"github.com/meridianid/go-sts/directory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T) *directory.InMemory {
	t.Helper()
	dir := directory.NewInMemory("t1")
	_, err := dir.AddTenant("t1", "https://sts.example.com/t1", nil, directory.TenantOptions{})
	require.NoError(t, err)
	return dir
}

func TestPasswordAuthentication(t *testing.T) {
	dir := newDirectory(t)
	alice := directory.PrincipalID{Name: "alice", Domain: "t1"}
	require.NoError(t, dir.AddUser("t1", alice, "hunter2"))

	t.Run("upn", func(t *testing.T) {
		user, err := dir.AuthenticateByPassword(context.Background(), "t1", "alice@t1", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, alice, user.ID)
		assert.Equal(t, "t1", user.Tenant)
	})

	t.Run("bare name resolves against the tenant domain", func(t *testing.T) {
		user, err := dir.AuthenticateByPassword(context.Background(), "t1", "alice", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, alice, user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := dir.AuthenticateByPassword(context.Background(), "t1", "alice@t1", "nope")
		assert.True(t, errors.Is(err, directory.ErrInvalidCredentials))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := dir.AuthenticateByPassword(context.Background(), "t1", "mallory@t1", "hunter2")
		assert.True(t, errors.Is(err, directory.ErrInvalidCredentials))
	})
}

func TestLookupsAreCaseInsensitive(t *testing.T) {
	dir := newDirectory(t)
	alice := directory.PrincipalID{Name: "alice", Domain: "t1"}
	require.NoError(t, dir.AddUser("t1", alice, "hunter2"))

	_, err := dir.Tenant(context.Background(), "T1")
	require.NoError(t, err)

	user, err := dir.AuthenticateByPassword(context.Background(), "t1", "ALICE@T1", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, alice, user.ID, "stored casing wins")
}

func TestSentinelErrors(t *testing.T) {
	dir := newDirectory(t)

	_, err := dir.Tenant(context.Background(), "nope")
	assert.True(t, errors.Is(err, directory.ErrNoSuchTenant))

	_, err = dir.Client(context.Background(), "t1", "nope")
	assert.True(t, errors.Is(err, directory.ErrNoSuchClient))

	_, err = dir.SolutionUser(context.Background(), "t1", "nope")
	assert.True(t, errors.Is(err, directory.ErrNoSuchPrincipal))

	_, err = dir.FederatedIDP(context.Background(), "https://nobody.example.com")
	assert.True(t, errors.Is(err, directory.ErrNoSuchIDP))
}

func TestGroupMembership(t *testing.T) {
	dir := newDirectory(t)
	alice := directory.PrincipalID{Name: "alice", Domain: "t1"}
	require.NoError(t, dir.AddUser("t1", alice, "hunter2"))

	member, err := dir.IsMemberOfGroup(context.Background(), "t1", alice, "Administrators")
	require.NoError(t, err)
	assert.False(t, member)

	require.NoError(t, dir.AddToGroup(context.Background(), "t1", alice, "Administrators"))
	require.NoError(t, dir.AddToGroup(context.Background(), "t1", alice, "Administrators")) // idempotent
	require.NoError(t, dir.AddToGroup(context.Background(), "t1", alice, "Users"))

	member, err = dir.IsMemberOfGroup(context.Background(), "t1", alice, "Administrators")
	require.NoError(t, err)
	assert.True(t, member)

	groups, err := dir.GroupsOf(context.Background(), "t1", alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Administrators", "Users"}, groups)
}

func TestFederatedProvisioning(t *testing.T) {
	dir := newDirectory(t)
	ext := directory.PrincipalID{Name: "ext-user", Domain: "fed-tenant"}

	require.NoError(t, dir.CreateTenant(context.Background(), "fed-tenant", "https://sts.example.com/fed-tenant"))
	require.NoError(t, dir.CreateTenant(context.Background(), "fed-tenant", "https://sts.example.com/fed-tenant"))
	tenant, err := dir.Tenant(context.Background(), "fed-tenant")
	require.NoError(t, err)
	assert.NotNil(t, tenant.PublicKey(), "created tenants get a signing key")

	require.NoError(t, dir.EnsureFederatedUser(context.Background(), "fed-tenant", "https://idp.example.com", ext))
	require.NoError(t, dir.EnsureFederatedUser(context.Background(), "fed-tenant", "https://idp.example.com", ext))

	// Provisioned users have no password to authenticate with.
	_, err = dir.AuthenticateByPassword(context.Background(), "fed-tenant", "ext-user@fed-tenant", "")
	assert.Error(t, err)
}

func TestScriptedExchangesConsumeRounds(t *testing.T) {
	dir := newDirectory(t)
	alice := directory.PrincipalID{Name: "alice", Domain: "t1"}

	dir.ScriptGSSExchange("ctx-1",
		directory.GSSResult{Complete: false, ServerLeg: []byte("leg-2")},
		directory.GSSResult{Complete: true, Principal: alice},
	)

	first, err := dir.AuthenticateByGSSTicket(context.Background(), "t1", "ctx-1", []byte("leg-1"))
	require.NoError(t, err)
	assert.False(t, first.Complete)
	assert.Equal(t, []byte("leg-2"), first.ServerLeg)

	second, err := dir.AuthenticateByGSSTicket(context.Background(), "t1", "ctx-1", []byte("leg-3"))
	require.NoError(t, err)
	assert.True(t, second.Complete)
	assert.Equal(t, alice, second.Principal)

	_, err = dir.AuthenticateByGSSTicket(context.Background(), "t1", "ctx-1", []byte("leg-5"))
	assert.True(t, errors.Is(err, directory.ErrInvalidCredentials), "exhausted script rejects")
}
