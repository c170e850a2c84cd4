package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jward/capgate"
	"github.com/jward/capgate/internal/store"
)

// dependencyToCLI converts one dependency set entry.
func dependencyToCLI(d capgate.Dependency) CLIDependency {
	switch d := d.(type) {
	case capgate.SingleDependency:
		return CLIDependency{Kind: store.KindSingle, Ref: d.Ref.String(), Optional: d.Optional, Text: d.String()}
	case capgate.SwitchDependency:
		resolved := d.Resolved
		c := CLIDependency{Kind: store.KindSwitch, Resolved: &resolved, Text: d.String()}
		refs := make([]string, len(d.Chosen))
		for i, ch := range d.Chosen {
			refs[i] = ch.Ref.String()
		}
		c.Ref = strings.Join(refs, ", ")
		for _, a := range d.Alternatives {
			c.Alternatives = append(c.Alternatives, a.Ref.String())
		}
		return c
	}
	return CLIDependency{Text: d.String()}
}

func dependenciesToCLI(deps []capgate.Dependency) []CLIDependency {
	out := make([]CLIDependency, len(deps))
	for i, d := range deps {
		out[i] = dependencyToCLI(d)
	}
	return out
}

// formatDependenciesText formats a dependency set one entry per line.
func formatDependenciesText(w io.Writer, deps []CLIDependency) {
	for _, d := range deps {
		fmt.Fprintln(w, d.Text)
		if d.Kind == store.KindSwitch && len(d.Alternatives) > 0 {
			fmt.Fprintf(w, "  alternatives: %s\n", strings.Join(d.Alternatives, ", "))
		}
	}
}

// formatAnalysisText prints the rewritten code followed by the dependency set.
func formatAnalysisText(w io.Writer, a CLIAnalysis) {
	if a.Code != "" {
		fmt.Fprint(w, a.Code)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Dependencies of %s:\n", a.Unit)
	if len(a.Dependencies) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	formatDependenciesText(w, a.Dependencies)
}

// formatSessionsText formats stored sessions as aligned columns.
func formatSessionsText(w io.Writer, sessions []CLISession) {
	for _, s := range sessions {
		label := s.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "Session %s (%s) started %s\n", s.ID, label, s.StartedAt)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  UNIT\tDEPS\tHASH\tANALYZED")
		for _, u := range s.Units {
			fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", u.Name, u.Dependencies, shortHash(u.Hash), u.AnalyzedAt)
		}
		tw.Flush()
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIAnalysis:
		formatAnalysisText(w, v)
	case []CLIDependency:
		formatDependenciesText(w, v)
	case CLICheck:
		verdict := "not implemented"
		if v.Implemented {
			verdict = "implemented"
		}
		fmt.Fprintf(w, "%s: %s\n", v.Ref, verdict)
	case CLIRun:
		if v.Failure != "" {
			fmt.Fprintf(w, "%s.%s failed: %s\n", v.Unit, v.Method, v.Failure)
		} else {
			fmt.Fprintln(w, v.Result)
		}
	case CLIDisassembly:
		fmt.Fprint(w, v.Text)
	case CLIAssembled:
		fmt.Fprintf(w, "wrote %s (%d bytes)\n", v.Output, v.Bytes)
	case []CLISession:
		formatSessionsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputResult writes a CLIResult in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to w as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(w io.Writer, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
