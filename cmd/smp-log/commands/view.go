package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	AttemptID string
	PeerAddr  string
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

func (f ViewFilter) filter() log.Filter {
	return log.Filter{
		AttemptID: f.AttemptID,
		PeerAddr:  f.PeerAddr,
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [attempt:id] peer ROLE DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.PDU != nil:
		typeLabel = event.PDU.Name
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Key != nil:
		typeLabel = "Key"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	dir := "-"
	if event.Category == log.CategoryPDU {
		dir = event.Direction.String()
	}

	fmt.Fprintf(w, "%s [attempt:%s] %s %s %-3s %s %s\n",
		ts, shortenID(event.AttemptID), event.PeerAddr, event.LocalRole, dir, event.Layer, typeLabel)

	switch {
	case event.PDU != nil:
		formatPDUDetails(w, event.PDU)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Key != nil:
		formatKeyDetails(w, event.Key)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func formatPDUDetails(w io.Writer, pdu *log.PDUEvent) {
	fmt.Fprintf(w, "  Opcode: 0x%02x  Size: %d bytes\n", pdu.Opcode, pdu.Size)
	if pdu.Redacted {
		fmt.Fprintln(w, "  Data: (redacted)")
	} else if len(pdu.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s\n", hex.EncodeToString(pdu.Data))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Model != "" {
		fmt.Fprintf(w, "  Model: %s", sc.Model)
		if sc.SecureConnections {
			fmt.Fprint(w, " (secure connections)")
		}
		fmt.Fprintln(w)
	}
}

func formatKeyDetails(w io.Writer, k *log.KeyEvent) {
	origin := "peer"
	if k.Local {
		origin = "local"
	}
	fmt.Fprintf(w, "  %s (%s)", k.Kind, origin)
	if k.Size > 0 {
		fmt.Fprintf(w, " size=%d", k.Size)
	}
	if k.Authenticated {
		fmt.Fprint(w, " authenticated")
	}
	fmt.Fprintln(w)
}

func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer)
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	fmt.Fprintf(w, "  Reason: %s (0x%02x)", smp.Reason(e.Reason), e.Reason)
	if e.Remote {
		fmt.Fprint(w, " reported by peer")
	}
	fmt.Fprintln(w)
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.filter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
