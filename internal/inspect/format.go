package inspect

import (
	"fmt"
	"strings"

	"github.com/roach88/puk/internal/ledger"
)

const summaryWidth = 80

// FormatTable renders run infos as an aligned table, one run per line.
func FormatTable(infos []RunInfo) string {
	if len(infos) == 0 {
		return "no runs\n"
	}
	header := []string{"RUN", "STATUS", "MODE", "CREATED", "EVENTS", "TITLE"}
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		status := info.Status
		if info.Stale {
			status += " (stale)"
		}
		rows = append(rows, []string{
			info.Name,
			status,
			info.Mode,
			info.Created,
			fmt.Sprintf("%d", info.Events),
			info.Title,
		})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(row []string) {
		var line strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				line.WriteString(cell)
				break
			}
			fmt.Fprintf(&line, "%-*s  ", widths[i], cell)
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteString("\n")
	}
	writeRow(header)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

// FormatShow renders one run's manifest summary followed by its events. A
// positive tail limits output to the last n events.
func FormatShow(info *RunInfo, events []ledger.Event, tail int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run:     %s\n", info.RunID)
	fmt.Fprintf(&b, "dir:     %s\n", info.Name)
	if info.Title != "" {
		fmt.Fprintf(&b, "title:   %s\n", info.Title)
	}
	status := info.Status
	if info.Stale {
		status += " (stale)"
	}
	fmt.Fprintf(&b, "status:  %s\n", status)
	fmt.Fprintf(&b, "mode:    %s\n", info.Mode)
	fmt.Fprintf(&b, "created: %s\n", info.Created)
	fmt.Fprintf(&b, "updated: %s\n", info.Updated)
	if m := info.Manifest(); m != nil && m.LLM.Model != "" {
		fmt.Fprintf(&b, "model:   %s/%s\n", m.LLM.Provider, m.LLM.Model)
	}
	fmt.Fprintf(&b, "events:  %d\n", len(events))

	shown := events
	if tail > 0 && len(events) > tail {
		shown = events[len(events)-tail:]
	}
	if len(shown) > 0 {
		b.WriteString("\n")
	}
	for i := range shown {
		b.WriteString(FormatEvent(&shown[i]))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatEvent renders one event as a single line: sequence, timestamp, kind,
// and a short payload summary.
func FormatEvent(ev *ledger.Event) string {
	return fmt.Sprintf("%4d  %s  %-16s  %s", ev.Seq, ev.Timestamp, ev.Type, summarize(ev))
}

func summarize(ev *ledger.Event) string {
	payload, err := ev.Payload()
	if err != nil {
		return "(undecodable payload)"
	}
	switch p := payload.(type) {
	case *ledger.SessionStart:
		return fmt.Sprintf("mode=%s", p.Mode)
	case *ledger.SessionEnd:
		if p.Reason != "" {
			return fmt.Sprintf("%s: %s", p.Status, oneLine(p.Reason))
		}
		return p.Status
	case *ledger.UserInput:
		return oneLine(p.Text)
	case *ledger.ContextResolved:
		return fmt.Sprintf("%d item(s)", len(p.Items))
	case *ledger.ModelOutput:
		return oneLine(p.Text)
	case *ledger.ToolCall:
		return p.Name
	case *ledger.ToolResult:
		if p.Reason != "" {
			return fmt.Sprintf("%s %s: %s", p.Name, p.Status, oneLine(p.Reason))
		}
		return fmt.Sprintf("%s %s", p.Name, p.Status)
	case *ledger.ArtifactWrite:
		return p.Path
	case *ledger.StatusChange:
		return p.Status
	case *ledger.PlaybookStart:
		return fmt.Sprintf("%s v%s (%s)", p.ID, p.Version, p.Mode)
	case *ledger.PlaybookPlan:
		if len(p.Steps) == 0 && p.Raw != "" {
			return "unparsed plan"
		}
		return fmt.Sprintf("%d step(s)", len(p.Steps))
	case *ledger.PlaybookApply:
		return fmt.Sprintf("plan_reviewed=%v", p.PlanReviewed)
	default:
		return ""
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > summaryWidth {
		return s[:summaryWidth] + "..."
	}
	return s
}
