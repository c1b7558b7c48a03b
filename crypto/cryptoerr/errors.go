// Package cryptoerr defines the error taxonomy shared by every layer of
// the encryption subsystem (crypto, personal, direct, sharedkey, group,
// scalable). It is a leaf package so each layer can report its own
// failures without creating an import cycle back through the root crypto
// package.
//
// The shape is grounded in the teacher's did.DIDError{Code, Message}
// pattern (_examples/SAGE-X-project-sage/did/types.go): a short kind
// string plus a one-line cause, not a deep custom error hierarchy.
package cryptoerr

import (
	"errors"
	"fmt"
)

// Kind names one of the error categories from the spec's error taxonomy.
// Kinds are not Go types, they are string tags: callers distinguish
// failures with Is, not type assertions.
type Kind string

const (
	KindInvalidKey         Kind = "InvalidKey"
	KindInvalidRecipient   Kind = "InvalidRecipient"
	KindInvalidEnvelope    Kind = "InvalidEnvelope"
	KindUnsupportedVersion Kind = "UnsupportedVersion"

	KindAuthFailed      Kind = "AuthFailed"
	KindSignatureInvalid Kind = "SignatureInvalid"
	KindTamperDetected  Kind = "TamperDetected"
	KindCryptoSource    Kind = "CryptoSource"
	KindCipherInit      Kind = "CipherInit"

	KindKeyNotFound     Kind = "KeyNotFound"
	KindDuplicateMember Kind = "DuplicateMember"
	KindNotMember       Kind = "NotMember"
	KindOwnerUndeletable Kind = "OwnerUndeletable"
	KindEpochClosed     Kind = "EpochClosed"
	KindKeyShareExpired Kind = "KeyShareExpired"
	KindDuplicateKeyID  Kind = "DuplicateKeyId"
	KindKeyIDMismatch   Kind = "KeyIdMismatch"
	KindGroupIDMismatch Kind = "GroupIdMismatch"
	KindRotationDisallowed Kind = "RotationDisallowed"

	KindPermissionDenied Kind = "PermissionDenied"

	KindGroupFull    Kind = "GroupFull"
	KindKeyStoreFull Kind = "KeyStoreFull"

	KindImportInvalid  Kind = "ImportInvalid"
	KindFrameTruncated Kind = "FrameTruncated"
	KindBase58Invalid  Kind = "Base58Invalid"
)

// Error is the concrete error type returned across the module. It carries
// a Kind for programmatic dispatch and a one-line human-readable Cause.
type Error struct {
	Kind  Kind
	Cause string
	Err   error // optional wrapped underlying error
}

func (e *Error) Error() string {
	if e.Cause == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with no wrapped cause.
func New(kind Kind, cause string) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Wrap builds an Error around an underlying error, keeping it reachable
// via errors.Unwrap/errors.Is.
func Wrap(kind Kind, cause string, err error) *Error {
	return &Error{Kind: kind, Cause: cause, Err: err}
}

// Is reports whether err is, or wraps, a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err if it is, or wraps, a *Error, and
// "Unknown" otherwise. Callers use this to label metrics without having
// to perform their own type assertions.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return "Unknown"
	}
	return e.Kind
}
