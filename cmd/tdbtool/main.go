// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// tdbtool inspects, validates and repairs tabledb databases.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bpowers/tabledb"
)

var (
	stderr = io.Writer(os.Stderr)
	osExit = os.Exit
)

func main() {
	t := newTool()
	if err := t.Root.Execute(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		osExit(1)
	}
}

// tool holds the flags shared by every command.
type tool struct {
	Root *cobra.Command

	configPath string
	verbose    bool
}

func newTool() *tool {
	t := &tool{}
	t.Root = &cobra.Command{
		Use:           "tdbtool",
		Short:         "tabledb introspection and repair tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	t.Root.PersistentFlags().StringVar(&t.configPath, "config", "", "YAML engine configuration")
	t.Root.PersistentFlags().BoolVarP(&t.verbose, "verbose", "v", false, "log engine activity to stderr")

	t.Root.AddCommand(
		&cobra.Command{
			Use:   "describe <database-dir> [table...]",
			Short: "print table schemas and files",
			Args:  cobra.MinimumNArgs(1),
			RunE:  t.runDescribe,
		},
		&cobra.Command{
			Use:   "validate <database-dir> <table>",
			Short: "check a table without modifying it",
			Args:  cobra.ExactArgs(2),
			RunE:  t.runValidate,
		},
		&cobra.Command{
			Use:   "check <database-dir>",
			Short: "validate every table of a database",
			Long: `
Validate every table of a database concurrently. Requires that the database
not be in use by another process.
`,
			Args: cobra.ExactArgs(1),
			RunE: t.runCheck,
		},
		&cobra.Command{
			Use:   "dump <database-dir> <table> <file>",
			Short: "export the live rows of a table",
			Args:  cobra.ExactArgs(3),
			RunE:  t.runDump,
		},
		&cobra.Command{
			Use:   "load <database-dir> <table> <file>",
			Short: "create a table from a dump",
			Args:  cobra.ExactArgs(3),
			RunE:  t.runLoad,
		},
		&cobra.Command{
			Use:   "repair <database-dir> <table>",
			Short: "fix a damaged table and rebuild its indexes",
			Args:  cobra.ExactArgs(2),
			RunE:  t.runRepair,
		},
	)
	return t
}

func (t *tool) options() ([]tabledb.Option, error) {
	var opts []tabledb.Option
	if t.verbose {
		opts = append(opts, tabledb.WithLogger(slog.New(slog.NewTextHandler(stderr, nil))))
	}
	if t.configPath != "" {
		opt, err := tabledb.LoadConfig(t.configPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return opts, nil
}
