package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/oifits/oifits"
)

// selection holds the flags shared by the commands that build and filter
// a collection.
type selection struct {
	check       bool
	separation  float64
	exact       bool
	staConf     bool
	parallelism int

	target      string
	insName     string
	night       int
	mjds        string
	baselines   string
	wavelengths string
	filters     []string
}

func (s *selection) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVarP(&s.check, "check", "c", false, "check every file and print the report")
	f.Float64Var(&s.separation, "separation", 0, "target like-match radius in arcseconds")
	f.BoolVar(&s.exact, "exact", false, "group targets and instrument modes by name only")
	f.BoolVar(&s.staConf, "sta-conf", false, "split granules by station configuration")
	f.IntVar(&s.parallelism, "parallelism", 0, "tables evaluated concurrently (0: all CPUs)")
	f.StringVar(&s.target, "target", "", "select one target")
	f.StringVar(&s.insName, "insname", "", "select one instrument mode")
	f.IntVar(&s.night, "night", 0, "select one night id")
	f.StringVar(&s.mjds, "mjds", "", "MJD ranges as min,max,...")
	f.StringVar(&s.baselines, "baselines", "", "baselines or triplets as A0-B1,...")
	f.StringVar(&s.wavelengths, "wavelengths", "", "wavelength ranges in meters as min,max,...")
	f.StringArrayVar(&s.filters, "filter", nil, "extra filter as name=value, repeatable")
}

func (s *selection) collectionOptions(a *app, cmd *cobra.Command) []oifits.CollectionOption {
	m := a.cfg.Match
	if cmd.Flags().Changed("separation") {
		m.SeparationArcsec = s.separation
	}
	if s.exact {
		m.Exact = true
	}
	if s.staConf {
		m.StaConf = true
	}

	match := oifits.DefaultMatchConfig().WithSeparation(m.SeparationArcsec)
	if m.Exact {
		match = oifits.ExactMatchConfig()
	}
	opts := []oifits.CollectionOption{oifits.WithMatchConfig(match), oifits.WithLogger(a.log)}
	if m.StaConf {
		opts = append(opts, oifits.WithStaConfGranules())
	}
	return opts
}

func (s *selection) selector(cmd *cobra.Command) (*oifits.Selector, error) {
	var args []oifits.Arg
	add := func(key, value string) {
		if value != "" {
			args = append(args, oifits.Arg{Key: key, Value: value})
		}
	}
	add(oifits.FilterTargetID, s.target)
	add(oifits.FilterInsName, s.insName)
	if cmd.Flags().Changed("night") {
		add(oifits.FilterNightID, fmt.Sprint(s.night))
	}
	add(oifits.FilterMJD, s.mjds)
	add(oifits.FilterStaIndex, s.baselines)
	add(oifits.FilterEffWave, s.wavelengths)
	for _, f := range s.filters {
		key, value, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("filter %q: want name=value", f)
		}
		add(strings.TrimSpace(key), value)
	}
	return oifits.ParseArgs(args)
}

func (s *selection) collection(ctx context.Context, a *app, cmd *cobra.Command, paths []string) (*oifits.Collection, error) {
	if len(paths) == 0 {
		listed, err := a.archive.List(ctx, "")
		if err != nil {
			return nil, err
		}
		paths = listed
	}
	var v oifits.Validator
	if s.check || a.cfg.Merge.Check {
		v = builtinRulesOnly
	}
	c, err := oifits.BuildCollection(ctx, a.archive, v, paths, s.collectionOptions(a, cmd)...)
	if err != nil {
		return nil, err
	}
	for _, f := range c.Failures() {
		a.printf("skipped %s: %v\n", f.Path, f.Err)
	}
	if s.check || a.cfg.Merge.Check {
		a.printf("%s\n", strings.TrimRight(c.Report().Summary(), "\n"))
	}
	return c, nil
}

// builtinRulesOnly adds no rule of its own. Passing it to BuildCollection
// turns on File.Check, which always runs the mandatory-table and
// cross-reference rules.
var builtinRulesOnly = oifits.ValidatorFunc(func(*oifits.File) *oifits.Report { return oifits.NewReport() })

func (s *selection) workers(a *app) int {
	if s.parallelism > 0 {
		return s.parallelism
	}
	return a.cfg.Merge.Parallelism
}

// cliArgs renders a selector as the flags that reproduce it.
func cliArgs(sel *oifits.Selector) string {
	var parts []string
	for _, arg := range sel.Args() {
		switch strings.ToUpper(arg.Key) {
		case oifits.FilterTargetID:
			parts = append(parts, "--target "+arg.Value)
		case oifits.FilterInsName:
			parts = append(parts, "--insname "+arg.Value)
		case oifits.FilterNightID:
			parts = append(parts, "--night "+arg.Value)
		case oifits.FilterMJD:
			parts = append(parts, "--mjds "+arg.Value)
		case oifits.FilterStaIndex:
			parts = append(parts, "--baselines "+arg.Value)
		case oifits.FilterEffWave:
			parts = append(parts, "--wavelengths "+arg.Value)
		default:
			parts = append(parts, "--filter "+arg.Key+"="+arg.Value)
		}
	}
	return strings.Join(parts, " ")
}

// -----------------------------------------------------------------------------
// list
// -----------------------------------------------------------------------------

func (a *app) listCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "list [paths...]",
		Short: "List the granules of archived files",
		RunE: func(cmd *cobra.Command, paths []string) error {
			s, err := sel.selector(cmd)
			if err != nil {
				return err
			}
			c, err := sel.collection(cmd.Context(), a, cmd, paths)
			if err != nil {
				return err
			}
			r := oifits.Select(c, s, oifits.WithParallelism(sel.workers(a)))
			a.printf("TARGET\tINSNAME\tNIGHT\tTABLES\n")
			for _, g := range r.Granules() {
				n := 0
				for _, t := range r.Tables() {
					if slices.ContainsFunc(r.TableGranules(t), g.Equal) {
						n++
					}
				}
				a.printf("%s\t%s\t%d\t%d\n", g.Target.Name, g.InsMode.Name, g.Night, n)
			}
			return nil
		},
	}
	sel.register(cmd)
	return cmd
}

// -----------------------------------------------------------------------------
// baselines
// -----------------------------------------------------------------------------

func (a *app) baselinesCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "baselines [paths...]",
		Short: "List the baselines and triplets of archived files",
		RunE: func(cmd *cobra.Command, paths []string) error {
			c, err := sel.collection(cmd.Context(), a, cmd, paths)
			if err != nil {
				return err
			}
			seen := make(map[string]struct{})
			var labels []string
			for _, t := range c.DataTables() {
				var stations map[int64]string
				if arr, ok := t.File().Lookup(oifits.KindArray, t.ArrName()); ok {
					stations = arr.StationNames()
				}
				for row := range t.NbRows() {
					l := oifits.BaselineLabel(t.StaIndex(row), stations)
					if _, ok := seen[l]; !ok && l != "" {
						seen[l] = struct{}{}
						labels = append(labels, l)
					}
				}
			}
			slices.Sort(labels)
			a.printf("%s\n", oifits.DumpStrings(labels))
			return nil
		},
	}
	sel.register(cmd)
	return cmd
}

// -----------------------------------------------------------------------------
// dump
// -----------------------------------------------------------------------------

func (a *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <path>",
		Short: "Print the tables, keywords and columns of an archived file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.archive.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, t := range f.Tables() {
				a.printf("%s ver=%d rows=%d\n", t, t.ExtVer(), t.NbRows())
				for _, k := range t.KeywordNames() {
					v, _ := t.Keyword(k)
					a.printf("  %s = %v\n", k, v)
				}
				for _, c := range t.Columns() {
					a.printf("  [%s %s x%d]\n", c.Name, c.Type, c.Width)
				}
			}
			return nil
		},
	}
}

// -----------------------------------------------------------------------------
// merge
// -----------------------------------------------------------------------------

func (a *app) mergeCmd() *cobra.Command {
	var sel selection
	var output string
	cmd := &cobra.Command{
		Use:   "merge [paths...]",
		Short: "Merge the selected data of archived files into one file",
		RunE: func(cmd *cobra.Command, paths []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			s, err := sel.selector(cmd)
			if err != nil {
				return err
			}
			c, err := sel.collection(cmd.Context(), a, cmd, paths)
			if err != nil {
				return err
			}
			a.log.Info("merging", "files", len(c.Files()), "selection", cliArgs(s))

			out, err := oifits.Merge(c, s,
				oifits.WithMergerLogger(a.log),
				oifits.WithMergerParallelism(sel.workers(a)))
			if err != nil {
				return err
			}
			if out == nil {
				a.printf("Result is empty, no file created.\n")
				return nil
			}
			if sel.check {
				a.printf("%s\n", strings.TrimRight(out.Check(nil).Summary(), "\n"))
			}
			if err := out.Write(cmd.Context(), a.archive, output); err != nil {
				return err
			}
			a.printf("merged %d data tables into %s\n", len(out.DataTables()), output)
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path of the merged file")
	return cmd
}

// -----------------------------------------------------------------------------
// convert
// -----------------------------------------------------------------------------

func (a *app) convertCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Rewrite an archived file with another compressor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.archive.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			comp, err := oifits.NewCompressor(to)
			if err != nil {
				return err
			}
			store := a.archive.Store()
			dst, err := oifits.NewArchive(
				func() (oifits.Store, error) { return store, nil },
				oifits.WithCompressor(comp),
				oifits.WithArchiveLogger(a.log))
			if err != nil {
				return err
			}
			if err := dst.Write(cmd.Context(), args[1], f); err != nil {
				return err
			}
			a.printf("converted %s to %s (%s)\n", args[0], args[1], comp.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "gzip", "compressor of the output: noop, gzip or zstd")
	return cmd
}

// -----------------------------------------------------------------------------
// export
// -----------------------------------------------------------------------------

func (a *app) exportCmd() *cobra.Command {
	var ext int
	var output string
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export one table of an archived file as Parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			f, err := a.archive.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			i := slices.IndexFunc(f.Tables(), func(t *oifits.Table) bool { return t.ExtNb() == ext })
			if i < 0 {
				return fmt.Errorf("%s has no extension %d", args[0], ext)
			}
			t := f.Tables()[i]

			w, err := os.Create(filepath.Clean(output))
			if err != nil {
				return err
			}
			err = oifits.ExportParquet(w, t, oifits.WithParquetCompression(parquetCompression(a.cfg.Export.Compression)))
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			a.printf("exported %s of %s to %s\n", t, args[0], output)
			return nil
		},
	}
	cmd.Flags().IntVar(&ext, "ext", 1, "extension number of the table")
	cmd.Flags().StringVarP(&output, "output", "o", "", "local Parquet file")
	return cmd
}

func parquetCompression(name string) oifits.ParquetCompression {
	switch name {
	case "gzip":
		return oifits.ParquetCompressionGzip
	case "none", "":
		return oifits.ParquetCompressionNone
	default:
		return oifits.ParquetCompressionSnappy
	}
}
