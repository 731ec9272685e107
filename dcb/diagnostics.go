package dcb

import "fmt"

// PrintOne renders a single DCB's state and statistics as a human-readable
// line, per spec.md §6's diagnostics contract.
func PrintOne(d *DCB) string {
	stats := d.Stats()
	sessionID := "-"
	if s := d.session; s != nil {
		sessionID = s.ID.String()
	}
	return fmt.Sprintf(
		"dcb=%s fd=%d role=%s state=%s session=%s reads=%d writes=%d buffered_writes=%d accepts=%d writeq_bytes=%d",
		d.id, d.FD(), d.role, d.State(), sessionID,
		stats.Reads, stats.Writes, stats.BufferedWrites, stats.Accepts,
		d.WriteQueueLen(),
	)
}

// EnumerateAll renders every live DCB in the registry, one line per DCB,
// in stable diagnostic-ID order.
func EnumerateAll(registry *Registry) []string {
	snapshot := registry.Snapshot()
	lines := make([]string, 0, len(snapshot))
	for _, d := range snapshot {
		lines = append(lines, PrintOne(d))
	}
	return lines
}
