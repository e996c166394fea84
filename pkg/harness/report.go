package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type status string

const (
	statusPass    status = "PASS"
	statusFail    status = "FAIL"
	statusSkip    status = "SKIP"
	statusPartial status = "PARTIAL"
)

type entry struct {
	name     string
	comment  string
	status   status
	start    time.Time
	duration time.Duration
	order    int
}

// Report collects test outcomes for the markdown summary written when
// CMLTEST_REPORT is set.
type Report struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     int
	start   time.Time
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{entries: make(map[string]*entry), start: time.Now()}
}

// Track records t and captures its outcome when it finishes.
func (r *Report) Track(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, ok := r.entries[name]; ok {
		return
	}
	r.seq++
	e := &entry{name: name, start: time.Now(), order: r.seq}
	r.entries[name] = e

	t.Cleanup(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		e.duration = time.Since(e.start)
		switch {
		case t.Failed():
			e.status = statusFail
		case t.Skipped():
			e.status = statusSkip
		default:
			e.status = statusPass
		}
	})
}

// Comment attaches a note to t's entry.
func (r *Report) Comment(t *testing.T, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[t.Name()]; ok {
		if e.comment != "" {
			e.comment += "; "
		}
		e.comment += msg
	}
}

// Write renders the report for sess to path.
func (r *Report) Write(path string, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := rollUp(r.entries)

	// rows are the outermost tracked tests
	var rows []*entry
	for _, e := range r.entries {
		if _, ok := r.entries[parentName(e.name)]; !ok {
			rows = append(rows, e)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].order < rows[j].order })

	counts := map[status]int{}
	for _, e := range rows {
		counts[outcomes[e.name].status]++
	}

	var sb strings.Builder
	sb.WriteString("# cmltest Report\n\n")
	sb.WriteString("| | |\n|---|---|\n")
	if sess != nil && sess.Conn != nil {
		fmt.Fprintf(&sb, "| **Lab** | %s (%s) |\n", escapePipe(sess.Conn.LabTitle), sess.Conn.LabID)
		fmt.Fprintf(&sb, "| **Appliance** | %s via %s:%d |\n", sess.Conn.Address, sess.Conn.Host, sess.Conn.SSHPort)
		fmt.Fprintf(&sb, "| **Network OS** | %s |\n", sess.Conn.NetworkOS)
		fmt.Fprintf(&sb, "| **Provisioning** | %s |\n", formatDuration(sess.Conn.ProvisionTime))
	}
	fmt.Fprintf(&sb, "| **Date** | %s |\n", r.start.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&sb, "| **Total Duration** | %s |\n", formatDuration(time.Since(r.start)))
	fmt.Fprintf(&sb, "| **Passed** | %d |\n", counts[statusPass])
	fmt.Fprintf(&sb, "| **Failed** | %d |\n", counts[statusFail])
	fmt.Fprintf(&sb, "| **Skipped** | %d |\n", counts[statusSkip])
	fmt.Fprintf(&sb, "| **Partial** | %d |\n", counts[statusPartial])
	sb.WriteString("\n## Results\n\n")
	sb.WriteString("| # | Test | Status | Duration | Comments |\n")
	sb.WriteString("|---|------|--------|----------|----------|\n")
	for i, e := range rows {
		o := outcomes[e.name]
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s |\n",
			i+1, escapePipe(e.name), o.status, formatDuration(e.duration), escapePipe(o.comment))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("harness: create report directory: %w", err)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// outcome is an entry's reported status and comment after roll-up.
type outcome struct {
	status  status
	comment string
}

// rollUp derives each parent's outcome from its subtests, deepest first,
// and lists the subtests that did not pass in the parent's comment. A
// parent that failed while none of its subtests did stays FAIL. Entries
// are not modified.
func rollUp(entries map[string]*entry) map[string]outcome {
	out := make(map[string]outcome, len(entries))
	children := map[string][]string{}
	for name, e := range entries {
		out[name] = outcome{status: e.status, comment: e.comment}
		parent := parentName(name)
		if _, ok := entries[parent]; ok {
			children[parent] = append(children[parent], name)
		}
	}

	parents := make([]string, 0, len(children))
	for name := range children {
		parents = append(parents, name)
	}
	sort.Slice(parents, func(i, j int) bool { return len(parents[i]) > len(parents[j]) })

	for _, parent := range parents {
		counts := map[status]int{}
		var notes []string
		for _, child := range children[parent] {
			st := out[child].status
			counts[st]++
			if st != statusPass {
				notes = append(notes, strings.TrimPrefix(child, parent+"/")+": "+string(st))
			}
		}
		sort.Strings(notes)

		total := len(children[parent])
		o := outcome{comment: entries[parent].comment}
		switch {
		case entries[parent].status == statusFail && counts[statusFail] == 0:
			o.status = statusFail
			notes = append([]string{"failed outside subtests"}, notes...)
		case counts[statusPass] == total:
			o.status = statusPass
		case counts[statusFail] == total:
			o.status = statusFail
		case counts[statusSkip] == total:
			o.status = statusSkip
		default:
			o.status = statusPartial
		}

		if len(notes) > 0 {
			if o.comment != "" {
				o.comment += "; "
			}
			o.comment += strings.Join(notes, "; ")
		}
		out[parent] = o
	}
	return out
}

func parentName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i]
	}
	return ""
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func escapePipe(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
