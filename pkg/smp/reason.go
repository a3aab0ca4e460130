package smp

import (
	"errors"
	"fmt"
)

// Reason is a pairing failure reason. Values up to 0x0E are the Pairing
// Failed codes sent on the air; higher values are local and never sent.
type Reason uint8

// Pairing Failed reason codes.
const (
	ReasonPasskeyEntryFailed       Reason = 0x01
	ReasonOOBNotAvailable          Reason = 0x02
	ReasonAuthenticationFailure    Reason = 0x03
	ReasonConfirmValueFailed       Reason = 0x04
	ReasonPairingNotSupported      Reason = 0x05
	ReasonEncryptionKeySize        Reason = 0x06
	ReasonCommandNotSupported      Reason = 0x07
	ReasonUnspecified              Reason = 0x08
	ReasonRepeatedAttempts         Reason = 0x09
	ReasonInvalidParameters        Reason = 0x0A
	ReasonDHKeyCheckFailed         Reason = 0x0B
	ReasonNumericComparisonFailed  Reason = 0x0C
	ReasonBREDRPairingInProgress   Reason = 0x0D
	ReasonCrossTransportNotAllowed Reason = 0x0E
	maxWireReason                  Reason = ReasonCrossTransportNotAllowed
	ReasonUnknownIOCapability      Reason = 0x10
	ReasonBusy                     Reason = 0x13
	ReasonEncryptionFailed         Reason = 0x14
	ReasonTimeout                  Reason = 0x16
	ReasonConnectionFailed         Reason = 0x18
	ReasonDisconnected             Reason = 0x19
	ReasonDerivationFailed         Reason = 0x1A
	ReasonCancelled                Reason = 0x1B
	ReasonResourceFailure          Reason = 0x1C
)

// Wire reports whether r may be carried in a Pairing Failed PDU.
func (r Reason) Wire() bool {
	return r >= ReasonPasskeyEntryFailed && r <= maxWireReason
}

var reasonNames = map[Reason]string{
	ReasonPasskeyEntryFailed:       "passkey entry failed",
	ReasonOOBNotAvailable:          "oob not available",
	ReasonAuthenticationFailure:    "authentication failure",
	ReasonConfirmValueFailed:       "confirm value failed",
	ReasonPairingNotSupported:      "pairing not supported",
	ReasonEncryptionKeySize:        "encryption key size",
	ReasonCommandNotSupported:      "command not supported",
	ReasonUnspecified:              "unspecified reason",
	ReasonRepeatedAttempts:         "repeated attempts",
	ReasonInvalidParameters:        "invalid parameters",
	ReasonDHKeyCheckFailed:         "dhkey check failed",
	ReasonNumericComparisonFailed:  "numeric comparison failed",
	ReasonBREDRPairingInProgress:   "br/edr pairing in progress",
	ReasonCrossTransportNotAllowed: "cross-transport key derivation not allowed",
	ReasonUnknownIOCapability:      "unknown io capability",
	ReasonBusy:                     "busy",
	ReasonEncryptionFailed:         "encryption failed",
	ReasonTimeout:                  "timeout",
	ReasonConnectionFailed:         "connection failed",
	ReasonDisconnected:             "disconnected",
	ReasonDerivationFailed:         "key derivation failed",
	ReasonCancelled:                "cancelled",
	ReasonResourceFailure:          "resource failure",
}

// String returns the reason text.
func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason 0x%02x", uint8(r))
}

// Sentinel errors, one per reason. errors.Is matches a *PairingError
// against the sentinel of its reason.
var (
	ErrPasskeyEntry         = errors.New("passkey entry failed")
	ErrOOBNotAvailable      = errors.New("oob not available")
	ErrAuthentication       = errors.New("authentication failure")
	ErrConfirmValue         = errors.New("confirm value failed")
	ErrPairingNotSupported  = errors.New("pairing not supported")
	ErrEncryptionKeySize    = errors.New("encryption key size")
	ErrCommandNotSupported  = errors.New("command not supported")
	ErrUnspecified          = errors.New("unspecified reason")
	ErrRepeatedAttempts     = errors.New("repeated attempts")
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrDHKeyCheck           = errors.New("dhkey check failed")
	ErrNumericComparison    = errors.New("numeric comparison failed")
	ErrBREDRInProgress      = errors.New("br/edr pairing in progress")
	ErrCrossTransport       = errors.New("cross-transport key derivation not allowed")
	ErrUnknownIOCapability  = errors.New("unknown io capability")
	ErrBusy                 = errors.New("pairing already in progress")
	ErrEncryption           = errors.New("encryption failed")
	ErrTimeout              = errors.New("pairing timeout")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrDisconnected         = errors.New("disconnected")
	ErrDerivation           = errors.New("key derivation failed")
	ErrCancelled            = errors.New("pairing cancelled")
	ErrResource             = errors.New("resource failure")
	ErrManagerClosed        = errors.New("manager closed")
	ErrNoSession            = errors.New("no pairing session")
	ErrInvalidPDU           = errors.New("invalid pdu")
	ErrUnsupportedTransport = errors.New("transport does not support br/edr")
)

var reasonErrors = map[Reason]error{
	ReasonPasskeyEntryFailed:       ErrPasskeyEntry,
	ReasonOOBNotAvailable:          ErrOOBNotAvailable,
	ReasonAuthenticationFailure:    ErrAuthentication,
	ReasonConfirmValueFailed:       ErrConfirmValue,
	ReasonPairingNotSupported:      ErrPairingNotSupported,
	ReasonEncryptionKeySize:        ErrEncryptionKeySize,
	ReasonCommandNotSupported:      ErrCommandNotSupported,
	ReasonUnspecified:              ErrUnspecified,
	ReasonRepeatedAttempts:         ErrRepeatedAttempts,
	ReasonInvalidParameters:        ErrInvalidParameters,
	ReasonDHKeyCheckFailed:         ErrDHKeyCheck,
	ReasonNumericComparisonFailed:  ErrNumericComparison,
	ReasonBREDRPairingInProgress:   ErrBREDRInProgress,
	ReasonCrossTransportNotAllowed: ErrCrossTransport,
	ReasonUnknownIOCapability:      ErrUnknownIOCapability,
	ReasonBusy:                     ErrBusy,
	ReasonEncryptionFailed:         ErrEncryption,
	ReasonTimeout:                  ErrTimeout,
	ReasonConnectionFailed:         ErrConnectionFailed,
	ReasonDisconnected:             ErrDisconnected,
	ReasonDerivationFailed:         ErrDerivation,
	ReasonCancelled:                ErrCancelled,
	ReasonResourceFailure:          ErrResource,
}

// PairingError is the failure of one pairing attempt.
type PairingError struct {
	Reason Reason
	// Remote is set when the peer sent the Pairing Failed PDU.
	Remote bool
	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *PairingError) Error() string {
	src := "local"
	if e.Remote {
		src = "remote"
	}
	if e.Err != nil {
		return fmt.Sprintf("smp: pairing failed (%s): %s: %v", src, e.Reason, e.Err)
	}
	return fmt.Sprintf("smp: pairing failed (%s): %s", src, e.Reason)
}

// Is matches the sentinel of e.Reason.
func (e *PairingError) Is(target error) bool {
	return reasonErrors[e.Reason] == target
}

// Unwrap returns the underlying cause.
func (e *PairingError) Unwrap() error { return e.Err }

// ReasonOf extracts the reason from err. It returns ReasonUnspecified for
// errors that are not pairing errors.
func ReasonOf(err error) Reason {
	var pe *PairingError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	for r, sentinel := range reasonErrors {
		if errors.Is(err, sentinel) {
			return r
		}
	}
	return ReasonUnspecified
}

// countsAsAttempt reports whether a failure feeds the repeated attempts
// backoff.
func (r Reason) countsAsAttempt() bool {
	switch r {
	case ReasonPasskeyEntryFailed, ReasonAuthenticationFailure, ReasonConfirmValueFailed,
		ReasonDHKeyCheckFailed, ReasonNumericComparisonFailed:
		return true
	}
	return false
}
