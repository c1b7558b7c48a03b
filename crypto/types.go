// Package crypto implements CryptoPrimitives (C1): random bytes, the
// iterated-SHA256 KDF, AES-256-GCM AEAD, Ed25519 sign/verify, the
// deliberately non-standard key-exchange function, buffer framing, and
// the Envelope wire type shared by every cipher mode.
//
// See SPEC_FULL.md §9 for the open questions (OQ1/OQ2) this package
// implements literally rather than "fixing" with standard primitives.
package crypto

import (
	"time"

	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

// Mode tags which cipher produced (and must decrypt) an Envelope.
type Mode string

const (
	ModePersonal        Mode = "personal"
	ModeDirect          Mode = "direct"
	ModeSharedMasterKey Mode = "group"
	ModeSignatureGroup  Mode = "signature-group"
)

// Metadata is the flattened, mode-agnostic metadata record carried by
// every Envelope. Fields not relevant to a given mode are left zero and
// omitted from JSON. A single flat struct is used instead of four tagged
// variants because the four modes' metadata overlap heavily on the wire
// (nonce/timestamp/version are universal) and a union would only
// reproduce this same shape with more ceremony — see Design Notes §9
// ("Role/permission unions... flat record"), generalized here to
// envelope metadata.
type Metadata struct {
	Salt               string            `json:"salt,omitempty"`
	Nonce              string            `json:"nonce,omitempty"`
	Timestamp          uint64            `json:"timestamp"`
	Version            string            `json:"version"`
	Compressed         bool              `json:"compressed,omitempty"`
	SenderPublicKey    string            `json:"senderPublicKey,omitempty"`
	RecipientPublicKey string            `json:"recipientPublicKey,omitempty"`
	EphemeralPublicKey string            `json:"ephemeralPublicKey,omitempty"`
	KeyID              string            `json:"keyId,omitempty"`
	Sender             string            `json:"sender,omitempty"`
	Recipients         []string          `json:"recipients,omitempty"`
	Signature          string            `json:"signature,omitempty"`
	GroupID            string            `json:"groupId,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// Envelope is the immutable, self-describing output of every encrypt
// operation in the module (§3, §6).
type Envelope struct {
	EncryptedData string   `json:"encryptedData"`
	Method        Mode     `json:"method"`
	Metadata      Metadata `json:"metadata"`
}

// VersionLegacy and VersionCurrent are the two wire versions the spec
// names explicitly (§3: Personal/Direct use "1.0.0", SharedMasterKey and
// SignatureGroup use "2.0.0").
const (
	VersionLegacy  = "1.0.0"
	VersionCurrent = "2.0.0"
)

// Clock abstracts "now" so membership expiry and timestamps are
// deterministic under test, per Design Notes §9 ("inject a clock
// capability").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock, backed by time.Now.
var SystemClock Clock = systemClock{}

// NowSeconds returns the clock's current time as Unix seconds, the
// timestamp unit mandated by §6.
func NowSeconds(c Clock) uint64 {
	if c == nil {
		c = SystemClock
	}
	return uint64(c.Now().Unix())
}

// Re-exported error constructors so callers of this package don't need a
// second import for the common case.
var (
	NewError  = cryptoerr.New
	WrapError = cryptoerr.Wrap
	IsKind    = cryptoerr.Is
)

// Kind aliases cryptoerr.Kind for callers that only import crypto.
type Kind = cryptoerr.Kind

const (
	KindInvalidKey         = cryptoerr.KindInvalidKey
	KindInvalidRecipient   = cryptoerr.KindInvalidRecipient
	KindInvalidEnvelope    = cryptoerr.KindInvalidEnvelope
	KindUnsupportedVersion = cryptoerr.KindUnsupportedVersion
	KindAuthFailed         = cryptoerr.KindAuthFailed
	KindSignatureInvalid   = cryptoerr.KindSignatureInvalid
	KindTamperDetected     = cryptoerr.KindTamperDetected
	KindCryptoSource       = cryptoerr.KindCryptoSource
	KindCipherInit         = cryptoerr.KindCipherInit
	KindFrameTruncated     = cryptoerr.KindFrameTruncated
	KindBase58Invalid      = cryptoerr.KindBase58Invalid
)
