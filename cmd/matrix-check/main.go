// Command matrix-check compiles a permission matrix directory and the
// lifecycle blueprints without starting the engine. CI runs it so that
// contradictory matrix rows are caught before deploy rather than at boot.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"govcore/internal/core"
	"govcore/internal/matrix"
	"govcore/internal/statemachine"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("matrix-check", flag.ContinueOnError)
	flags.SetOutput(stderr)
	dir := flags.String("dir", os.Getenv(core.EnvMatrixDir), "directory holding <type>.csv matrix files")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *dir == "" {
		fmt.Fprintln(stderr, "matrix-check: no matrix directory (use -dir or GOVCORE_MATRIX_DIR)")
		return 2
	}

	registry := statemachine.NewRegistry()
	if err := core.RegisterBlueprints(registry); err != nil {
		fmt.Fprintf(stderr, "matrix-check: blueprints: %v\n", err)
		return 1
	}
	if _, err := matrix.LoadDir(*dir); err != nil {
		fmt.Fprintf(stderr, "matrix-check: %v\n", err)
		return 1
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.csv"))
	if err != nil {
		fmt.Fprintf(stderr, "matrix-check: %v\n", err)
		return 1
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, strings.TrimSuffix(filepath.Base(file), ".csv"))
	}
	fmt.Fprintf(stdout, "matrix ok: %d table(s) compiled (%s)\n", len(names), strings.Join(names, ", "))
	return 0
}
