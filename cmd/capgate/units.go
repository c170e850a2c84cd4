package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/capgate/internal/unit"
)

var flagOutput string

var assembleCmd = &cobra.Command{
	Use:   "assemble <src.toml>",
	Short: "Assemble a TOML unit source into an encoded unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssemble,
}

func init() {
	assembleCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output path (default: source path with .cgu extension)")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	src := args[0]

	data, err := os.ReadFile(src)
	if err != nil {
		return outputError(w, "assemble", fmt.Errorf("reading source: %w", err))
	}
	u, err := unit.ParseSource(data)
	if err != nil {
		return outputError(w, "assemble", err)
	}
	encoded, err := unit.Encode(u)
	if err != nil {
		return outputError(w, "assemble", err)
	}

	out := flagOutput
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".cgu"
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return outputError(w, "assemble", fmt.Errorf("writing %s: %w", out, err))
	}
	return outputResult(w, CLIResult{
		Command: "assemble",
		Results: CLIAssembled{Unit: u.Name, Output: out, Bytes: len(encoded)},
	})
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <file.cgu|src.toml>",
	Short: "Print the readable listing of a unit file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisasm,
}

func runDisasm(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return outputError(w, "disasm", fmt.Errorf("reading unit: %w", err))
	}
	u, err := unit.Parse(data)
	if err != nil {
		return outputError(w, "disasm", err)
	}
	return outputResult(w, CLIResult{
		Command: "disasm",
		Results: CLIDisassembly{Unit: u.Name, Text: unit.Disassemble(u)},
	})
}
