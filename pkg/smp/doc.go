// Package smp implements the Bluetooth Security Manager pairing engine.
//
// A Manager runs one pairing session per peer address. Transport events
// (received PDUs, encryption changes, link loss) and user replies
// (passkeys, numeric comparison, OOB data) are delivered to the Manager,
// which queues them for the session. Each session processes its events on
// its own goroutine, so callbacks for one peer never run concurrently.
// Elliptic curve work runs off the session goroutine and comes back as an
// event; PDUs that arrive meanwhile are held until it finishes.
//
// # Pairing Methods
//
// Both LE legacy pairing (Just Works, passkey entry, OOB) and LE Secure
// Connections (Just Works, numeric comparison, passkey entry, OOB) are
// supported, as well as pairing over the BR/EDR Security Manager channel.
// The association model follows from the IO capabilities, the OOB flags
// and the MITM flags of both sides.
//
// # Outcome
//
// Every attempt ends in exactly one Handler.PairingComplete or
// Handler.PairingFailed call. Failures carry a *PairingError whose Reason
// is either a Pairing Failed code or a local reason such as ReasonTimeout.
//
// # Basic Usage
//
//	cfg := smp.DefaultConfig()
//	cfg.IOCapability = smp.DisplayYesNo
//	cfg.AuthReq |= smp.AuthMITM
//
//	m, err := smp.NewManager(cfg, transport, store, handler)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	// Transport callbacks
//	m.HandlePDU(addr, smp.LinkLE, pdu)
//	m.EncryptionChanged(addr, true)
//
//	// Central side
//	m.Pair(addr)
package smp
