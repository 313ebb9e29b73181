package isolation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Outcome is the result of one probe.
type Outcome string

const (
	Pass Outcome = "pass"
	// Leak means a tenant saw data that belongs to another tenant, or a bad
	// credential was accepted.
	Leak Outcome = "leak"
	// Forged means a write attached data to, or changed data of, another tenant.
	Forged Outcome = "forged"
	// Drift means the live row level security catalog differs from the
	// declared policy set.
	Drift Outcome = "drift"
	// Inconclusive means the probe could not establish its own preconditions.
	// It fails the run like any other non-pass outcome.
	Inconclusive Outcome = "inconclusive"
)

func (o Outcome) rank() int {
	switch o {
	case Pass:
		return 0
	case Inconclusive:
		return 1
	default:
		return 2
	}
}

// Finding is the result of one probe.
type Finding struct {
	Probe    string   `json:"probe"`
	Resource string   `json:"resource"`
	Scenario int      `json:"scenario,omitempty"`
	Outcome  Outcome  `json:"outcome"`
	Details  []string `json:"details,omitempty"`
}

func newFinding(p probe) Finding {
	return Finding{Probe: p.name, Resource: p.resource, Scenario: p.scenario, Outcome: Pass}
}

// mark records a problem. The finding keeps its most severe outcome.
func (f *Finding) mark(o Outcome, format string, args ...any) {
	if o.rank() > f.Outcome.rank() {
		f.Outcome = o
	}
	f.Details = append(f.Details, fmt.Sprintf("%s: %s", o, fmt.Sprintf(format, args...)))
}

// Report collects every finding of a run.
type Report struct {
	Tag           string    `json:"tag"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Findings      []Finding `json:"findings"`
	CleanupErrors []string  `json:"cleanup_errors,omitempty"`
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Passed reports whether every probe passed. An empty report does not pass.
func (r *Report) Passed() bool {
	if r == nil || len(r.Findings) == 0 {
		return false
	}
	for _, f := range r.Findings {
		if f.Outcome != Pass {
			return false
		}
	}
	return true
}

// Failures returns the findings that did not pass.
func (r *Report) Failures() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Outcome != Pass {
			out = append(out, f)
		}
	}
	return out
}

// WriteText prints the report as a table followed by failure details.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PROBE\tRESOURCE\tSCENARIO\tOUTCOME\n")
	for _, f := range r.Findings {
		scenario := "-"
		if f.Scenario > 0 {
			scenario = fmt.Sprint(f.Scenario)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Probe, f.Resource, scenario, strings.ToUpper(string(f.Outcome)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, f := range r.Failures() {
		for _, d := range f.Details {
			fmt.Fprintf(w, "  %s: %s\n", f.Probe, d)
		}
	}
	for _, e := range r.CleanupErrors {
		fmt.Fprintf(w, "  cleanup: %s\n", e)
	}
	verdict := "FAIL"
	if r.Passed() {
		verdict = "PASS"
	}
	_, err := fmt.Fprintf(w, "isolation %s (tag %s, %d probes)\n", verdict, r.Tag, len(r.Findings))
	return err
}

// WriteJSON prints the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*Report
		Passed bool `json:"passed"`
	}{r, r.Passed()})
}
