package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
	"github.com/jward/capgate/internal/vm"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <unit>",
	Short: "Analyze and rewrite a unit",
	Long:  "Analyzes the named unit, prints its rewritten code and dependency set, and records the result when a database is configured.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd, args[0], true)
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps <unit>",
	Short: "Print the dependency set of a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd, args[0], false)
	},
}

func runAnalyze(cmd *cobra.Command, name string, withCode bool) error {
	w := cmd.OutOrStdout()
	command := cmd.Name()

	e, err := openEngine()
	if err != nil {
		return outputError(w, command, err)
	}
	defer e.Close()

	u, err := e.AnalyzeAndRewrite(context.Background(), name)
	if err != nil {
		return outputError(w, command, err)
	}
	deps, _ := e.DependencySet(name)
	if err := e.Flush(); err != nil {
		return outputError(w, command, err)
	}

	if !withCode {
		return outputResult(w, CLIResult{Command: command, Results: dependenciesToCLI(deps)})
	}
	a := CLIAnalysis{
		Unit:         u.Name,
		Code:         unit.Disassemble(u),
		Dependencies: dependenciesToCLI(deps),
	}
	if s := e.Session(); s != nil {
		a.Session = s.ID
	}
	return outputResult(w, CLIResult{Command: command, Results: a})
}

var checkCmd = &cobra.Command{
	Use:   "check <owner.name> <desc>",
	Short: "Check whether a method or field is implemented",
	Long:  "Runs the implemented check for a reference such as \"acme/Store.get (T)O\". Use --register to declare implementations.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	r, err := ref.Parse(strings.Join(args, " "))
	if err != nil {
		return outputError(w, "check", err)
	}
	if !r.IsMethod() && !r.IsField() {
		return outputError(w, "check", fmt.Errorf("%s: expected a method or field reference", r))
	}

	e, err := openEngine()
	if err != nil {
		return outputError(w, "check", err)
	}
	defer e.Close()

	return outputResult(w, CLIResult{
		Command: "check",
		Results: CLICheck{Ref: r.String(), Implemented: e.IsImplemented(r)},
	})
}

var runCmd = &cobra.Command{
	Use:   "run <unit> <method>",
	Short: "Execute a static method in its rewritten form",
	Long:  "Runs a static method taking no arguments through the rewriting loader and prints its result or the failure it raised.",
	Args:  cobra.ExactArgs(2),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	ctx := context.Background()
	owner, name := args[0], args[1]

	e, err := openEngine()
	if err != nil {
		return outputError(w, "run", err)
	}
	defer e.Close()

	def, err := e.Definition(owner)
	if err != nil {
		return outputError(w, "run", err)
	}
	m := entryPoint(def, name)
	if m == nil {
		return outputError(w, "run", fmt.Errorf("%s has no static method %s taking no arguments", owner, name))
	}

	out := CLIRun{Unit: owner, Method: name + " " + m.Desc}
	v, err := e.NewMachine().Call(ctx, owner, m.Name, m.Desc)
	switch {
	case err == nil:
		out.Result = vm.Format(v)
	case vm.IsNotImplemented(err), errors.Is(err, vm.ErrNoneImplemented):
		out.Failure = err.Error()
	default:
		return outputError(w, "run", err)
	}
	if err := e.Flush(); err != nil {
		return outputError(w, "run", err)
	}
	if err := outputResult(w, CLIResult{Command: "run", Results: out}); err != nil {
		return err
	}
	if out.Failure != "" {
		errorHandled = true
		return errors.New(out.Failure)
	}
	return nil
}

// entryPoint finds a static no-argument method called name.
func entryPoint(u *unit.Unit, name string) *unit.Method {
	for _, m := range u.Methods {
		if m.Name == name && m.Static && !m.Abstract && ref.ArgCount(m.Desc) == 0 {
			return m
		}
	}
	return nil
}
