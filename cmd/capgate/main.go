package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/jward/capgate"
	"github.com/jward/capgate/internal/config"
)

var (
	flagPaths    []string
	flagConfig   string
	flagDB       string
	flagFormat   string
	flagVerbose  int
	flagRegister []string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "capgate",
	Short:         "Conditional capability resolution for compiled units",
	Long:          "capgate analyzes compiled units, decides which capability symbols are implemented, and rewrites guarded capability use so missing capabilities take their fallback path.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		commonlog.Configure(flagVerbose, nil)
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringArrayVar(&flagPaths, "path", nil, "unit directory (repeatable; default from capgate.toml)")
	pf.StringVar(&flagConfig, "config", "", "path to capgate.toml (default: search upward from the working directory)")
	pf.StringVar(&flagDB, "db", "", "results database path")
	pf.StringVar(&flagFormat, "format", "json", "output format: json|text")
	pf.CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity")
	pf.StringArrayVar(&flagRegister, "register", nil, "register an implementation as impl=capability[,capability] (repeatable)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig reads --config, or the nearest capgate.toml, or the defaults,
// then applies --path and --db on top.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if flagConfig != "" {
		data, err := os.ReadFile(flagConfig)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if cfg, err = config.Parse(data, filepath.Dir(flagConfig)); err != nil {
			return nil, err
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting cwd: %w", err)
		}
		if cfg, err = config.FindAndLoad(cwd); err != nil {
			return nil, err
		}
		if cfg == nil {
			cfg = config.Default()
			cfg.Dir = cwd
		}
	}

	// Flag paths are relative to the working directory, not the config.
	if len(flagPaths) > 0 {
		cfg.Units.Dirs = nil
		for _, p := range flagPaths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("resolving path %q: %w", p, err)
			}
			cfg.Units.Dirs = append(cfg.Units.Dirs, abs)
		}
	}
	if flagDB != "" {
		abs, err := filepath.Abs(flagDB)
		if err != nil {
			return nil, fmt.Errorf("resolving path %q: %w", flagDB, err)
		}
		cfg.Store.Path = abs
	}
	if cfg.Log.Verbosity > flagVerbose {
		commonlog.Configure(cfg.Log.Verbosity, nil)
	}
	return cfg, nil
}

// openEngine builds an Engine from the configuration and --register flags.
func openEngine() (*capgate.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e, err := capgate.NewFromConfig(cfg, capgate.WithStore(cfg.StorePath(), "cli"))
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	for _, binding := range flagRegister {
		impl, caps, err := parseRegistration(binding)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.RegisterImplementation(impl, caps...)
	}
	return e, nil
}

// parseRegistration reads "impl=cap1,cap2".
func parseRegistration(binding string) (string, []string, error) {
	impl, rest, ok := strings.Cut(binding, "=")
	impl = strings.TrimSpace(impl)
	if !ok || impl == "" || strings.TrimSpace(rest) == "" {
		return "", nil, fmt.Errorf("invalid --register %q: expected impl=capability", binding)
	}
	var caps []string
	for _, c := range strings.Split(rest, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	return impl, caps, nil
}
