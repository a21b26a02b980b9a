package diagnostic

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"github.com/jabolina/must-go/types"
)

// WriteHTMLReport renders every collected event, sorted by severity then
// original order, to w as deadlock-report.html's content (spec.md §6,
// artifact 1). No example repo in the pack ships an HTML templating
// library or a reporting package to ground this on, so this uses the
// standard library's html/template directly (see DESIGN.md).
func WriteHTMLReport(w io.Writer, events []Event) error {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Severity > sorted[j].Severity })

	tmpl := template.Must(template.New("report").Parse(reportTemplate))
	return tmpl.Execute(w, sorted)
}

const reportTemplate = `<!DOCTYPE html>
<html>
<head><title>deadlock report</title></head>
<body>
<table>
<tr><th>severity</th><th>call site</th><th>message</th><th>references</th></tr>
{{range .}}
<tr>
<td>{{.Severity}}</td>
<td>{{.Site}}</td>
<td>{{.Text}}</td>
<td>{{range .Refs}}{{.}} {{end}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`

// WriteDot renders the deadlock core (spec.md §4.9's output of C9's
// cycle detection) as deadlock.dot: nodes labeled rank[:sub] with an
// AND/OR marker, edges labeled with each edge's Label string as is (the
// operation kind set by core.BlockingState; no communicator symbol is
// added) (spec.md §6, artifact 2).
func WriteDot(w io.Writer, core []types.WfgNode) error {
	var b strings.Builder
	b.WriteString("digraph deadlock {\n")
	for _, n := range core {
		label := nodeLabel(n.ID)
		marker := "AND"
		if n.Type == types.NodeOR {
			marker = "OR"
		}
		fmt.Fprintf(&b, "  %q [label=%q];\n", nodeKey(n.ID), fmt.Sprintf("%s (%s)", label, marker))
	}
	for _, n := range core {
		for _, e := range n.OutEdges {
			fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", nodeKey(n.ID), nodeKey(e.Target), e.Label)
		}
	}
	b.WriteString("}\n")
	_, err := w.Write([]byte(b.String()))
	return err
}

func nodeKey(id types.WfgNodeID) string {
	if id.SubID < 0 {
		return fmt.Sprintf("r%d", id.Rank)
	}
	return fmt.Sprintf("r%d_%d", id.Rank, id.SubID)
}

func nodeLabel(id types.WfgNodeID) string {
	if id.SubID < 0 {
		return fmt.Sprintf("%d", id.Rank)
	}
	return fmt.Sprintf("%d:%d", id.Rank, id.SubID)
}

// WriteReproducerLog renders every event as a `rank;callName;occCount;severity;text`
// line (spec.md §6, optional artifact 3), suitable for re-matching on a
// second run. callName is derived from the event's MsgId since the core
// does not track the original library call name (out of scope per
// spec.md §1).
func WriteReproducerLog(w io.Writer, events []Event) error {
	counts := make(map[string]int)
	for _, e := range events {
		key := fmt.Sprintf("%d|%s|%s", e.Site.ParallelId.Rank, e.MsgId, e.Text)
		counts[key]++
		line := fmt.Sprintf("%d;%s;%d;%s;%s\n", e.Site.ParallelId.Rank, e.MsgId, counts[key], e.Severity, e.Text)
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
