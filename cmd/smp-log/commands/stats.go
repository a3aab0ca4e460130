package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	PDUsByName        map[string]int
	Attempts          map[string]*AttemptStats
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// AttemptStats holds statistics for a single pairing attempt.
type AttemptStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	PeerAddr  string
	Role      log.Role
	Model     string
	Outcome   string
	Keys      int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		PDUsByName:        make(map[string]int),
		Attempts:          make(map[string]*AttemptStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	a, ok := s.Attempts[event.AttemptID]
	if !ok {
		a = &AttemptStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			PeerAddr:  event.PeerAddr,
			Role:      event.LocalRole,
		}
		s.Attempts[event.AttemptID] = a
	}
	a.Events++
	if event.Timestamp.After(a.LastSeen) {
		a.LastSeen = event.Timestamp
	}

	switch {
	case event.PDU != nil:
		s.EventsByDirection[event.Direction]++
		s.PDUsByName[event.PDU.Name]++
	case event.StateChange != nil:
		if event.StateChange.Model != "" {
			a.Model = event.StateChange.Model
		}
		if event.StateChange.NewState == smp.StateComplete.String() {
			a.Outcome = "complete"
		}
	case event.Key != nil:
		a.Keys++
	case event.Error != nil:
		a.Outcome = "failed: " + smp.Reason(event.Error.Reason).String()
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== SMP Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerChannel, log.LayerEngine, log.LayerKeyDist} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryPDU, log.CategoryState, log.CategoryKey, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "PDUs by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.PDUsByName) > 0 {
		fmt.Fprintln(w, "PDUs by Opcode:")
		names := make([]string, 0, len(stats.PDUsByName))
		for n := range stats.PDUsByName {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(w, "  %-28s %d\n", n+":", stats.PDUsByName[n])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Attempts: %d\n", len(stats.Attempts))
	if len(stats.Attempts) == 0 {
		return
	}

	type attemptInfo struct {
		id    string
		stats *AttemptStats
	}
	attempts := make([]attemptInfo, 0, len(stats.Attempts))
	for id, as := range stats.Attempts {
		attempts = append(attempts, attemptInfo{id, as})
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].stats.FirstSeen.Before(attempts[j].stats.FirstSeen)
	})

	fmt.Fprintln(w)
	for _, a := range attempts {
		duration := a.stats.LastSeen.Sub(a.stats.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %s %s, %d events, duration %s\n",
			shortenID(a.id), a.stats.PeerAddr, a.stats.Role, a.stats.Events, duration)
		if a.stats.Model != "" {
			fmt.Fprintf(w, "           Model: %s\n", a.stats.Model)
		}
		if a.stats.Keys > 0 {
			fmt.Fprintf(w, "           Keys: %d\n", a.stats.Keys)
		}
		outcome := a.stats.Outcome
		if outcome == "" {
			outcome = "in progress"
		}
		fmt.Fprintf(w, "           Outcome: %s\n", outcome)
	}
}
