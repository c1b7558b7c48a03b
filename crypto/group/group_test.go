package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
	"github.com/vaultmesh/scalecrypt/crypto/sharedkey"
)

func sharedEncryptOpts() sharedkey.EncryptOptions {
	return sharedkey.EncryptOptions{}
}

type party struct {
	priv []byte
	pub  []byte
}

func newParty(t *testing.T) party {
	t.Helper()
	priv, err := crypto.Random(32)
	require.NoError(t, err)
	pub, err := crypto.DerivePublicKey(priv)
	require.NoError(t, err)
	return party{priv: priv, pub: pub}
}

// P7: the Owner is immortal.
func TestOwnerCannotBeRemoved(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	owner := newParty(t)

	g, err := reg.CreateSignatureGroup("owners-only", owner.priv, DefaultGroupPermissions())
	require.NoError(t, err)

	_, err = reg.RemoveMember(g.GroupID, owner.pub, owner.priv, owner.pub, false)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindOwnerUndeletable))
}

// P6: epoch numbers strictly increase and only the last epoch is open.
func TestEpochMonotonicity(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	owner := newParty(t)
	admin := newParty(t)
	member := newParty(t)

	g, err := reg.CreateSignatureGroup("epoch-group", owner.priv, DefaultGroupPermissions())
	require.NoError(t, err)
	require.Len(t, g.Epochs, 1)
	assert.Nil(t, g.Epochs[0].EndTime)

	g, err = reg.AddMember(g.GroupID, admin.pub, RoleAdmin, owner.priv, owner.pub)
	require.NoError(t, err)
	g, err = reg.AddMember(g.GroupID, member.pub, RoleMember, owner.priv, owner.pub)
	require.NoError(t, err)

	g, err = reg.RemoveMember(g.GroupID, member.pub, owner.priv, owner.pub, true)
	require.NoError(t, err)

	require.Len(t, g.Epochs, 2)
	assert.Equal(t, 1, g.Epochs[0].EpochNumber)
	assert.NotNil(t, g.Epochs[0].EndTime)
	assert.Equal(t, 2, g.Epochs[1].EpochNumber)
	assert.Nil(t, g.Epochs[1].EndTime)
}

// Scenario 4: rotate-on-remove revokes the removed member's access while
// preserving it for everyone else.
func TestRemoveWithRotationRevokesAccess(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	alice := newParty(t)
	bob := newParty(t)
	charlie := newParty(t)

	g, err := reg.CreateSignatureGroup("team", alice.priv, DefaultGroupPermissions())
	require.NoError(t, err)
	g, err = reg.AddMember(g.GroupID, bob.pub, RoleAdmin, alice.priv, alice.pub)
	require.NoError(t, err)
	g, err = reg.AddMember(g.GroupID, charlie.pub, RoleMember, alice.priv, alice.pub)
	require.NoError(t, err)

	g, err = reg.RemoveMember(g.GroupID, charlie.pub, alice.priv, alice.pub, true)
	require.NoError(t, err)
	_, stillMember := g.Member(crypto.Base58Encode(charlie.pub))
	assert.False(t, stillMember)

	env, err := reg.EncryptWithGroup(g.GroupID, []byte("secret"), alice.priv, alice.pub, sharedEncryptOpts())
	require.NoError(t, err)

	out, err := reg.DecryptWithGroup(env, bob.priv, bob.pub)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(out))

	_, err = reg.DecryptWithGroup(env, charlie.priv, charlie.pub)
	require.Error(t, err)
}

func TestAddMemberRejectsDuplicate(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	owner := newParty(t)
	bob := newParty(t)

	g, err := reg.CreateSignatureGroup("dupes", owner.priv, DefaultGroupPermissions())
	require.NoError(t, err)

	g, err = reg.AddMember(g.GroupID, bob.pub, RoleMember, owner.priv, owner.pub)
	require.NoError(t, err)

	_, err = reg.AddMember(g.GroupID, bob.pub, RoleMember, owner.priv, owner.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindDuplicateMember))
}

func TestAddMemberRespectsMaxMembers(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	owner := newParty(t)
	bob := newParty(t)

	perms := DefaultGroupPermissions()
	perms.MaxMembers = 1

	g, err := reg.CreateSignatureGroup("capped", owner.priv, perms)
	require.NoError(t, err)

	_, err = reg.AddMember(g.GroupID, bob.pub, RoleMember, owner.priv, owner.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindGroupFull))
}

func TestViewerCannotEncrypt(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	owner := newParty(t)
	viewer := newParty(t)

	g, err := reg.CreateSignatureGroup("viewers", owner.priv, DefaultGroupPermissions())
	require.NoError(t, err)
	g, err = reg.AddMember(g.GroupID, viewer.pub, RoleViewer, owner.priv, owner.pub)
	require.NoError(t, err)

	_, err = reg.EncryptWithGroup(g.GroupID, []byte("x"), viewer.priv, viewer.pub, sharedEncryptOpts())
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindPermissionDenied))
}

func TestRotateGroupKeysWithoutRemovalRefreshesMasterKey(t *testing.T) {
	reg := NewRegistry(crypto.SystemClock)
	owner := newParty(t)
	bob := newParty(t)

	g, err := reg.CreateSignatureGroup("refresh", owner.priv, DefaultGroupPermissions())
	require.NoError(t, err)
	g, err = reg.AddMember(g.GroupID, bob.pub, RoleAdmin, owner.priv, owner.pub)
	require.NoError(t, err)

	firstEpoch := g.CurrentEpoch()

	g, err = reg.RotateGroupKeys(g.GroupID, owner.priv, owner.pub, "scheduled-refresh", nil, nil)
	require.NoError(t, err)

	require.Len(t, g.Epochs, 2)
	secondEpoch := g.CurrentEpoch()
	assert.NotEqual(t, firstEpoch.MasterKeyID, secondEpoch.MasterKeyID)

	env, err := reg.EncryptWithGroup(g.GroupID, []byte("fresh"), owner.priv, owner.pub, sharedEncryptOpts())
	require.NoError(t, err)
	out, err := reg.DecryptWithGroup(env, bob.priv, bob.pub)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(out))
}
