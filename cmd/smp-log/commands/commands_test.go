package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mash-protocol/blesmp/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.smplog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

// sampleAttempt returns the events of a short secure connections attempt
// followed by a failed one.
func sampleAttempt() []log.Event {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	base := func(offset time.Duration, id string) log.Event {
		return log.Event{
			Timestamp: ts.Add(offset),
			AttemptID: id,
			LocalRole: log.RoleInitiator,
			PeerAddr:  "public/00:1b:dc:01:02:03",
			Transport: "le",
		}
	}
	const ok = "5f0c8e2a-0000-4000-8000-000000000001"
	const bad = "9a1b2c3d-0000-4000-8000-000000000002"

	var events []log.Event

	e := base(0, ok)
	e.Layer, e.Category, e.Direction = log.LayerChannel, log.CategoryPDU, log.DirectionOut
	e.PDU = &log.PDUEvent{Opcode: 0x01, Name: "PairingRequest", Size: 7, Data: []byte{0x01, 0x03, 0x00, 0x09, 0x10, 0x03, 0x03}}
	events = append(events, e)

	e = base(10*time.Millisecond, ok)
	e.Layer, e.Category, e.Direction = log.LayerChannel, log.CategoryPDU, log.DirectionIn
	e.PDU = &log.PDUEvent{Opcode: 0x02, Name: "PairingResponse", Size: 7, Data: []byte{0x02, 0x03, 0x00, 0x09, 0x10, 0x03, 0x03}}
	events = append(events, e)

	e = base(20*time.Millisecond, ok)
	e.Layer, e.Category = log.LayerEngine, log.CategoryState
	e.StateChange = &log.StateChangeEvent{OldState: "PairingRequested", NewState: "PublicKeyExchange", Model: "JustWorks", SecureConnections: true}
	events = append(events, e)

	e = base(300*time.Millisecond, ok)
	e.Layer, e.Category, e.Direction = log.LayerChannel, log.CategoryPDU, log.DirectionOut
	e.PDU = &log.PDUEvent{Opcode: 0x08, Name: "IdentityInformation", Size: 17, Redacted: true}
	events = append(events, e)

	e = base(310*time.Millisecond, ok)
	e.Layer, e.Category = log.LayerKeyDist, log.CategoryKey
	e.Key = &log.KeyEvent{Kind: "LTK", Size: 16, Authenticated: false}
	events = append(events, e)

	e = base(320*time.Millisecond, ok)
	e.Layer, e.Category = log.LayerEngine, log.CategoryState
	e.StateChange = &log.StateChangeEvent{OldState: "BondPending", NewState: "Complete", Model: "JustWorks", SecureConnections: true}
	events = append(events, e)

	e = base(2*time.Second, bad)
	e.Layer, e.Category, e.Direction = log.LayerChannel, log.CategoryPDU, log.DirectionIn
	e.PDU = &log.PDUEvent{Opcode: 0x05, Name: "PairingFailed", Size: 2, Data: []byte{0x05, 0x04}}
	events = append(events, e)

	e = base(2*time.Second+time.Millisecond, bad)
	e.Layer, e.Category = log.LayerEngine, log.CategoryError
	e.Error = &log.ErrorEventData{Layer: log.LayerEngine, Message: "confirm value failed", Reason: 0x04, Remote: true}
	events = append(events, e)

	return events
}
