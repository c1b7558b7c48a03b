package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

// TestLevelFiltering is the minimum smoke test for the mechanism every
// other test in this file depends on: a logger below its configured
// level produces no output.
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)

	l.Info("should be filtered")
	assert.Empty(t, buf.String())

	l.Warn("should be logged")
	assert.NotEmpty(t, buf.String())
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

// TestCryptoErrorFieldFlattensKindAndCause is the behavior the review
// asked log() itself to own: a *cryptoerr.Error passed via Error() must
// surface as top-level "<key>_kind"/"<key>_cause" fields, not an opaque
// nested value, so a log aggregator can filter or group on
// crypto/sharedkey and crypto/group's error taxonomy the same way it
// filters on "caller" or "function".
func TestCryptoErrorFieldFlattensKindAndCause(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)

	err := cryptoerr.New(cryptoerr.KindPermissionDenied, "authorizer cannot remove members")
	l.Warn("remove member rejected", Error(err))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "PermissionDenied", entry["error_kind"])
	assert.Equal(t, "authorizer cannot remove members", entry["error_cause"])
	_, hasOpaqueError := entry["error"]
	assert.False(t, hasOpaqueError, "a cryptoerr.Error must not also appear as an opaque \"error\" field")
}

// TestCryptoErrorFieldIncludesWrappedCause covers cryptoerr.Wrap, whose
// Err is the underlying failure (e.g. a signature verification error
// from crypto/sharedkey.RawDecrypt) rather than a plain string cause.
func TestCryptoErrorFieldIncludesWrappedCause(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)

	underlying := errors.New("ed25519: invalid signature")
	err := cryptoerr.Wrap(cryptoerr.KindSignatureInvalid, "sender signature did not verify", underlying)
	l.Warn("group decrypt failed", Error(err))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "SignatureInvalid", entry["error_kind"])
	assert.Equal(t, "sender signature did not verify", entry["error_cause"])
	assert.Equal(t, "ed25519: invalid signature", entry["error_wrapped"])
}

// TestPlainErrorFieldStillDecodesToString confirms a non-taxonomy error
// (e.g. one surfaced straight from a stdlib call) is not run through the
// cryptoerr decomposition and instead collapses to its message, as
// before.
func TestPlainErrorFieldStillDecodesToString(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)

	l.Warn("unexpected failure", Error(errors.New("disk full")))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "disk full", entry["error"])
	assert.NotContains(t, entry, "error_kind")
}

func TestNilErrorFieldLogsNull(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)

	l.Info("no failure", Error(nil))

	entry := decodeEntry(t, &buf)
	v, ok := entry["error"]
	require.True(t, ok)
	assert.Nil(t, v)
}

// TestOperationAndModeFields covers the two field constructors that tag
// a log line with its operation name and envelope mode; the mode value is
// the same wire tag the CryptoOperations counter uses as its mode label.
func TestOperationAndModeFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)

	l.Info("shared key created", Operation("create"), Mode(crypto.ModeSharedMasterKey))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "create", entry["operation"])
	assert.Equal(t, "group", entry["mode"]) // crypto.ModeSharedMasterKey's wire tag
}

// TestCallSiteShapeForRejectedMutation exercises the exact field
// combination crypto/group.Registry.RemoveMember logs on a rejected
// mutation, so a change to that call site's field names is caught here
// rather than only by reading the call site itself.
func TestCallSiteShapeForRejectedMutation(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)

	err := cryptoerr.New(cryptoerr.KindOwnerUndeletable, "the group owner cannot be removed")
	l.Warn("remove member rejected",
		Operation("remove-member"),
		Mode(crypto.ModeSignatureGroup),
		String("groupId", "grp_123"),
		Error(err),
	)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "remove member rejected", entry["message"])
	assert.Equal(t, "remove-member", entry["operation"])
	assert.Equal(t, "signature-group", entry["mode"])
	assert.Equal(t, "grp_123", entry["groupId"])
	assert.Equal(t, "OwnerUndeletable", entry["error_kind"])
	assert.Equal(t, "the group owner cannot be removed", entry["error_cause"])
}

// TestWithFieldsPreservesCryptoErrorDecomposition confirms the
// clone-with-overridden-field path (WithFields) still routes every field
// through the same decomposition as a one-shot call, since baseFields
// and per-call fields are applied by the same helper.
func TestWithFieldsPreservesCryptoErrorDecomposition(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, InfoLevel)
	scoped := base.WithFields(String("groupId", "grp_456"))

	scoped.Warn("rotate group keys rejected", Error(cryptoerr.New(cryptoerr.KindRotationDisallowed, "group does not permit key rotation")))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "grp_456", entry["groupId"])
	assert.Equal(t, "RotationDisallowed", entry["error_kind"])
}

func BenchmarkLogCryptoError(b *testing.B) {
	l := NewLogger(&bytes.Buffer{}, InfoLevel)
	err := cryptoerr.New(cryptoerr.KindPermissionDenied, "sender cannot encrypt for this group")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Warn("group encrypt rejected", Operation("encrypt"), Mode(crypto.ModeSignatureGroup), Error(err))
	}
}
