// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/tabledb"
	"github.com/bpowers/tabledb/internal/table"
)

// openDatabase retrieves the database at path and calls fn with it.
func (t *tool) openDatabase(path string, fn func(h *tabledb.Handler) error) (err error) {
	opts, err := t.options()
	if err != nil {
		return err
	}
	e, err := tabledb.NewEngine(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if serr := e.Shutdown(); err == nil {
			err = serr
		}
	}()
	path = filepath.Clean(path)
	h, err := e.RetrieveDatabase(filepath.Base(path), filepath.Dir(path))
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		return err
	}
	return e.ReleaseDatabase(h)
}

func tableNames(h *tabledb.Handler, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	names := make([]string, h.PersistentTablesCount())
	for i := range names {
		name, err := h.TableName(i)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

func (t *tool) runDescribe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return t.openDatabase(args[0], func(h *tabledb.Handler) error {
		names, err := tableNames(h, args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "database %s (%s)\n", h.Name(), h.ID())
		for _, name := range names {
			info, err := table.Inspect(h.Path(), name)
			if err != nil {
				return err
			}
			state := "clean"
			if info.Dirty {
				state = "dirty"
			}
			fmt.Fprintf(out, "\n%s, %s, generation %d\n", info, state, info.Generation)

			fields := tablewriter.NewWriter(out)
			fields.SetHeader([]string{"#", "Field", "Type", "Indexed"})
			for f, d := range info.Fields {
				indexed := ""
				if info.Indexed[f] {
					indexed = "yes"
				}
				fields.Append([]string{strconv.Itoa(f), d.Name, d.String(), indexed})
			}
			fields.Render()

			var total uint64
			files := tablewriter.NewWriter(out)
			files.SetHeader([]string{"File", "Size"})
			for _, fi := range info.Files {
				total += uint64(fi.Size)
				files.Append([]string{filepath.Base(fi.Path), humanize.IBytes(uint64(fi.Size))})
			}
			files.SetFooter([]string{"total", humanize.IBytes(total)})
			files.Render()
		}
		return nil
	})
}

func (t *tool) runValidate(cmd *cobra.Command, args []string) error {
	opts, err := t.options()
	if err != nil {
		return err
	}
	ok, err := tabledb.ValidateTable(args[0], args[1], opts...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: table is damaged", args[1])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[1])
	return nil
}

func (t *tool) runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return t.openDatabase(args[0], func(h *tabledb.Handler) error {
		names, err := tableNames(h, nil)
		if err != nil {
			return err
		}
		results := make([]bool, len(names))
		var damaged atomic.Int32
		var g errgroup.Group
		g.SetLimit(4)
		for i, name := range names {
			i, name := i, name
			g.Go(func() error {
				ok, err := tabledb.ValidateTable(h.Path(), name)
				if err != nil {
					return err
				}
				results[i] = ok
				if !ok {
					damaged.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, name := range names {
			status := "ok"
			if !results[i] {
				status = "DAMAGED"
			}
			fmt.Fprintf(out, "%-24s %s\n", name, status)
		}
		if n := damaged.Load(); n > 0 {
			return fmt.Errorf("%d of %d tables damaged", n, len(names))
		}
		return nil
	})
}

func (t *tool) runRepair(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return t.openDatabase(args[0], func(h *tabledb.Handler) error {
		var actions int
		err := tabledb.RepairTable(h, args[1], "", func(msg string, sev tabledb.Severity) {
			actions++
			fmt.Fprintf(out, "%-7s %s\n", sev, msg)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d repair actions\n", args[1], actions)
		return nil
	})
}

func (t *tool) runDump(cmd *cobra.Command, args []string) error {
	return t.openDatabase(args[0], func(h *tabledb.Handler) error {
		n, err := h.ExportTable(args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s rows dumped\n", args[1], humanize.Comma(int64(n)))
		return nil
	})
}

func (t *tool) runLoad(cmd *cobra.Command, args []string) error {
	return t.openDatabase(args[0], func(h *tabledb.Handler) error {
		n, err := h.ImportTable(args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s rows loaded\n", args[1], humanize.Comma(int64(n)))
		return nil
	})
}
