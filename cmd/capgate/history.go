package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/capgate/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored analysis sessions and their units",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	s, err := openStore()
	if err != nil {
		return outputError(w, "history", err)
	}
	defer s.Close()

	sessions, err := s.Sessions()
	if err != nil {
		return outputError(w, "history", err)
	}
	out := make([]CLISession, 0, len(sessions))
	for _, sess := range sessions {
		units, err := s.UnitsBySession(sess.ID)
		if err != nil {
			return outputError(w, "history", err)
		}
		cs := CLISession{
			ID:        sess.ID,
			Label:     sess.Label,
			StartedAt: sess.StartedAt.Format(time.RFC3339),
			Units:     make([]CLIUnitRecord, 0, len(units)),
		}
		for _, u := range units {
			deps, err := s.DependenciesByUnit(u.ID)
			if err != nil {
				return outputError(w, "history", err)
			}
			cs.Units = append(cs.Units, CLIUnitRecord{
				Name:         u.Name,
				Hash:         u.Hash,
				AnalyzedAt:   u.AnalyzedAt.Format(time.RFC3339),
				Dependencies: len(deps),
			})
		}
		out = append(out, cs)
	}
	return outputResult(w, CLIResult{Command: "history", Results: out})
}

// openStore opens the results database named by --db or capgate.toml.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dbPath := cfg.StorePath()
	if dbPath == "" {
		return nil, fmt.Errorf("no database configured (use --db or [store] path)")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'capgate analyze --db' first)", dbPath)
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
