package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

// exportRecord is one capture event flattened for spreadsheets and jq.
type exportRecord struct {
	Time      string `json:"time"`
	Attempt   string `json:"attempt"`
	Peer      string `json:"peer,omitempty"`
	Transport string `json:"transport,omitempty"`
	Role      string `json:"role"`
	Event     string `json:"event"`

	Direction string `json:"dir,omitempty"`
	PDU       string `json:"pdu,omitempty"`
	Opcode    string `json:"opcode,omitempty"`
	Data      string `json:"data,omitempty"`
	Redacted  bool   `json:"redacted,omitempty"`

	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Model string `json:"model,omitempty"`
	SC    bool   `json:"sc,omitempty"`

	Key           string `json:"key,omitempty"`
	KeySize       int    `json:"key_size,omitempty"`
	Authenticated bool   `json:"authenticated,omitempty"`

	Reason string `json:"reason,omitempty"`
	Remote bool   `json:"remote,omitempty"`
	Detail string `json:"detail,omitempty"`
}

var csvHeader = []string{
	"time", "attempt", "peer", "transport", "role", "event",
	"dir", "pdu", "data", "state", "model", "key", "reason",
}

func newExportRecord(e log.Event) exportRecord {
	r := exportRecord{
		Time:      e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		Attempt:   e.AttemptID,
		Peer:      e.PeerAddr,
		Transport: e.Transport,
		Role:      e.LocalRole.String(),
		Event:     e.Category.String(),
	}
	switch {
	case e.PDU != nil:
		r.Direction = e.Direction.String()
		r.PDU = e.PDU.Name
		r.Opcode = fmt.Sprintf("0x%02x", e.PDU.Opcode)
		r.Data = hex.EncodeToString(e.PDU.Data)
		r.Redacted = e.PDU.Redacted
	case e.StateChange != nil:
		r.From = e.StateChange.OldState
		r.To = e.StateChange.NewState
		r.Model = e.StateChange.Model
		r.SC = e.StateChange.SecureConnections
	case e.Key != nil:
		r.Key = e.Key.Kind
		r.KeySize = e.Key.Size
		r.Authenticated = e.Key.Authenticated
	case e.Error != nil:
		r.Reason = smp.Reason(e.Error.Reason).String()
		r.Remote = e.Error.Remote
		r.Detail = e.Error.Message
	}
	return r
}

func (r exportRecord) row() []string {
	data := r.Data
	if r.Redacted {
		data = "redacted"
	}
	state := ""
	if r.To != "" {
		state = r.From + ">" + r.To
	}
	key := r.Key
	if r.KeySize > 0 {
		key += "/" + strconv.Itoa(r.KeySize)
	}
	reason := r.Reason
	if reason != "" && r.Remote {
		reason += " (remote)"
	}
	return []string{
		r.Time, r.Attempt, r.Peer, r.Transport, r.Role, r.Event,
		r.Direction, r.PDU, data, state, r.Model, key, reason,
	}
}

// RunExport writes the capture at path as JSON lines or CSV to output,
// or to stdout when output is empty.
func RunExport(path, format, output string) error {
	var write func(w io.Writer, records []exportRecord) error
	switch format {
	case "jsonl":
		write = writeJSONL
	case "csv":
		write = writeCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	events, err := reader.All()
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}
	records := make([]exportRecord, len(events))
	for i, e := range events {
		records[i] = newExportRecord(e)
	}

	if output == "" {
		return write(os.Stdout, records)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSONL(w io.Writer, records []exportRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, records []exportRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(r.row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
