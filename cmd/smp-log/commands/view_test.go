package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mash-protocol/blesmp/pkg/log"
)

func TestFormatPDUEvent(t *testing.T) {
	event := sampleAttempt()[0]

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "2026-01-28T10:15:32.123456Z") {
		t.Errorf("expected microsecond timestamp, got: %s", output)
	}
	if !strings.Contains(output, "[attempt:5f0c8e2a]") {
		t.Errorf("expected shortened attempt ID, got: %s", output)
	}
	if !strings.Contains(output, "public/00:1b:dc:01:02:03 INITIATOR OUT CHANNEL PairingRequest") {
		t.Errorf("unexpected header, got: %s", output)
	}
	if !strings.Contains(output, "Opcode: 0x01  Size: 7 bytes") {
		t.Errorf("expected opcode and size, got: %s", output)
	}
	if !strings.Contains(output, "Data: 01030009100303") {
		t.Errorf("expected hex data, got: %s", output)
	}
}

func TestFormatRedactedPDU(t *testing.T) {
	event := sampleAttempt()[3]

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "IdentityInformation") {
		t.Errorf("expected PDU name, got: %s", output)
	}
	if !strings.Contains(output, "Data: (redacted)") {
		t.Errorf("expected redaction marker, got: %s", output)
	}
}

func TestFormatStateChange(t *testing.T) {
	event := sampleAttempt()[2]

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, " -   ENGINE State") {
		t.Errorf("state events carry no direction, got: %s", output)
	}
	if !strings.Contains(output, "PairingRequested -> PublicKeyExchange") {
		t.Errorf("expected transition, got: %s", output)
	}
	if !strings.Contains(output, "Model: JustWorks (secure connections)") {
		t.Errorf("expected model, got: %s", output)
	}
}

func TestFormatKeyAndError(t *testing.T) {
	events := sampleAttempt()

	var buf bytes.Buffer
	formatEvent(&buf, events[4])
	if !strings.Contains(buf.String(), "LTK (peer) size=16") {
		t.Errorf("expected key details, got: %s", buf.String())
	}

	buf.Reset()
	formatEvent(&buf, events[7])
	output := buf.String()
	if !strings.Contains(output, "Message: confirm value failed") {
		t.Errorf("expected message, got: %s", output)
	}
	if !strings.Contains(output, "Reason: confirm value failed (0x04) reported by peer") {
		t.Errorf("expected reason, got: %s", output)
	}
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleAttempt())

	cat := log.CategoryPDU
	dir := log.DirectionIn
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Category: &cat, Direction: &dir}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if got := strings.Count(output, "[attempt:"); got != 2 {
		t.Errorf("expected 2 events, got %d:\n%s", got, output)
	}
	if strings.Contains(output, "PairingRequest\n") {
		t.Errorf("outgoing PDU not filtered:\n%s", output)
	}

	buf.Reset()
	if err := RunView(path, ViewFilter{AttemptID: "9a1b2c3d-0000-4000-8000-000000000002"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), "[attempt:9a1b2c3d]"); got != 2 {
		t.Errorf("expected 2 events of the failed attempt, got %d", got)
	}
}

func TestRunViewMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := RunView("/nonexistent/file.smplog", ViewFilter{}, &buf); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("KeyDist"); err != nil || l != log.LayerKeyDist {
		t.Errorf("ParseLayerFlag = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := ParseDirectionFlag("OUT"); err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag = %v, %v", d, err)
	}
	if _, err := ParseDirectionFlag("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
	if c, err := ParseCategoryFlag("key"); err != nil || c != log.CategoryKey {
		t.Errorf("ParseCategoryFlag = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("message"); err == nil {
		t.Error("expected error for unknown category")
	}
	if op, err := ParseOpcodeFlag("0x0b"); err != nil || op != 0x0b {
		t.Errorf("ParseOpcodeFlag = %v, %v", op, err)
	}
	if op, err := ParseOpcodeFlag("12"); err != nil || op != 12 {
		t.Errorf("ParseOpcodeFlag = %v, %v", op, err)
	}
	if _, err := ParseOpcodeFlag("0x100"); err == nil {
		t.Error("expected error for out of range opcode")
	}
}

func TestShortenID(t *testing.T) {
	if got := shortenID("abc"); got != "abc" {
		t.Errorf("shortenID(abc) = %q", got)
	}
	if got := shortenID(strings.Repeat("x", 36)); got != "xxxxxxxx" {
		t.Errorf("shortenID = %q", got)
	}
}
