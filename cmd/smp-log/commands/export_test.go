package commands

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExportToJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleAttempt())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not JSON: %v", len(lines)+1, err)
		}
		lines = append(lines, decoded)
	}
	if len(lines) != len(sampleAttempt()) {
		t.Fatalf("expected %d lines, got %d", len(sampleAttempt()), len(lines))
	}

	first := lines[0]
	if first["attempt"] != "5f0c8e2a-0000-4000-8000-000000000001" {
		t.Errorf("attempt = %v", first["attempt"])
	}
	if first["pdu"] != "PairingRequest" || first["opcode"] != "0x01" || first["dir"] != "OUT" {
		t.Errorf("unexpected PDU line: %v", first)
	}
	if first["data"] != "01030009100303" {
		t.Errorf("data = %v", first["data"])
	}
	if first["time"] != "2026-01-28T10:15:32.123456Z" {
		t.Errorf("time = %v", first["time"])
	}

	identity := lines[3]
	if identity["redacted"] != true {
		t.Errorf("identity line not marked redacted: %v", identity)
	}
	if _, ok := identity["data"]; ok {
		t.Errorf("redacted PDU exported data: %v", identity["data"])
	}

	state := lines[2]
	if state["from"] != "PairingRequested" || state["to"] != "PublicKeyExchange" || state["sc"] != true {
		t.Errorf("unexpected state line: %v", state)
	}

	failure := lines[len(lines)-1]
	if failure["reason"] != "confirm value failed" || failure["remote"] != true {
		t.Errorf("unexpected error line: %v", failure)
	}
}

func TestExportToCSV(t *testing.T) {
	path := createTestLogFile(t, sampleAttempt())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != len(sampleAttempt())+1 {
		t.Fatalf("expected header plus %d rows, got %d", len(sampleAttempt()), len(records))
	}
	if strings.Join(records[0], ",") != "time,attempt,peer,transport,role,event,dir,pdu,data,state,model,key,reason" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[1][7] != "PairingRequest" || records[1][6] != "OUT" || records[1][4] != "INITIATOR" {
		t.Errorf("unexpected first row: %v", records[1])
	}
	if records[3][9] != "PairingRequested>PublicKeyExchange" || records[3][10] != "JustWorks" {
		t.Errorf("unexpected state row: %v", records[3])
	}
	if records[4][8] != "redacted" {
		t.Errorf("identity row leaked data: %v", records[4])
	}
	if records[5][11] != "LTK/16" {
		t.Errorf("unexpected key row: %v", records[5])
	}
	if records[7][8] != "0504" {
		t.Errorf("unexpected PairingFailed data: %v", records[7])
	}
	last := records[len(records)-1]
	if last[5] != "ERROR" || last[12] != "confirm value failed (remote)" {
		t.Errorf("unexpected error row: %v", last)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleAttempt())
	err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out.xml"))
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}
