package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/catalog"
	"github.com/Sternrassler/coinmetrics-client/pkg/client"
	"github.com/Sternrassler/coinmetrics-client/pkg/export"
	"github.com/Sternrassler/coinmetrics-client/pkg/pagination"
	"github.com/spf13/cobra"
)

const (
	formatCSV  = "csv"
	formatJSON = "json"
)

// outputFlags are shared by commands that write records.
type outputFlags struct {
	params  []string
	columns []string
	format  string
	out     string
	refresh bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.params, "param", "p", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&o.columns, "columns", nil, "CSV columns in order (default: fields of the first record)")
	cmd.Flags().StringVarP(&o.format, "format", "f", formatCSV, "Output format (csv|json)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "-", "Output file, - for stdout")
	cmd.Flags().BoolVar(&o.refresh, "refresh", false, "Drop cached pages of the endpoint before fetching")
}

func (o *outputFlags) validate() error {
	if o.format != formatCSV && o.format != formatJSON {
		return fmt.Errorf("unknown format %q (want csv or json)", o.format)
	}
	return nil
}

// getFlags configure the get command.
type getFlags struct {
	outputFlags
	outDir          string
	parallel        bool
	splitOn         []string
	chunkSize       int
	timeIncrement   string
	heightIncrement int64
	maxWorkers      int
	nonTabular      bool
}

// parallelRequested reports whether any flag asks for a split run.
func (g *getFlags) parallelRequested(cmd *cobra.Command) bool {
	if g.parallel || g.outDir != "" {
		return true
	}
	for _, name := range []string{"split-on", "time-increment", "height-increment"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func newGetCmd(a *app) *cobra.Command {
	g := &getFlags{}
	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Export every record of an endpoint",
		Example: `  cm-export get timeseries/asset-metrics -p assets=btc,eth -p metrics=PriceUSD -p frequency=1d
  cm-export get timeseries/asset-metrics -p assets=btc,eth,sol -p metrics=PriceUSD --parallel --out-dir ./out
  cm-export get timeseries/market-trades -p markets=coinbase-btc-usd-spot -p start_time=2024-01-01 --time-increment "1 day" -f json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.validate(); err != nil {
				return err
			}
			p, err := parseParams(g.params)
			if err != nil {
				return err
			}
			return a.withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				return a.runGet(ctx, cmd, c, args[0], p, g)
			})
		},
	}
	g.register(cmd)
	cmd.Flags().StringVar(&g.outDir, "out-dir", "", "Write one file per split into this directory (implies --parallel)")
	cmd.Flags().BoolVar(&g.parallel, "parallel", false, "Split the query and run the parts concurrently")
	cmd.Flags().StringSliceVar(&g.splitOn, "split-on", nil, "Parameters to split on (default: first present of "+strings.Join(pagination.DefaultSplitParams, ", ")+")")
	cmd.Flags().IntVar(&g.chunkSize, "chunk-size", 0, "Values per split for each split-on parameter (default from config)")
	cmd.Flags().StringVar(&g.timeIncrement, "time-increment", "", `Split [start_time, end_time) into windows, e.g. "1 month", "7d", "12h"`)
	cmd.Flags().Int64Var(&g.heightIncrement, "height-increment", 0, "Split [start_height, end_height] into ranges of this many blocks")
	cmd.Flags().IntVar(&g.maxWorkers, "max-workers", 0, "Concurrent splits (default from config)")
	cmd.Flags().BoolVar(&g.nonTabular, "non-tabular", false, "Treat records as nested documents (JSON output only)")
	return cmd
}

func (a *app) runGet(ctx context.Context, cmd *cobra.Command, c *client.Client, endpoint string, p map[string]any, g *getFlags) error {
	if g.refresh {
		if _, err := c.InvalidateCache(ctx, endpoint); err != nil {
			return err
		}
	}

	var opts []pagination.Option
	if g.nonTabular {
		opts = append(opts, pagination.WithNonTabular())
	}
	coll, err := c.Collection(endpoint, p, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	logger := a.logger.With().Str("endpoint", endpoint).Logger()

	if !g.parallelRequested(cmd) {
		err := writeOutput(g.out, cmd.OutOrStdout(), func(w io.Writer) error {
			if g.format == formatJSON {
				return coll.ExportToJSON(ctx, w)
			}
			return coll.ExportToCSV(ctx, w, g.columns...)
		})
		if err != nil {
			return err
		}
		logger.Info().Int("pages", coll.Pages()).Dur("elapsed", time.Since(start)).Msg("Export complete")
		return nil
	}

	popts, err := a.parallelOptions(g)
	if err != nil {
		return err
	}
	par := coll.Parallel(popts)

	if g.outDir != "" {
		var files []string
		if g.format == formatJSON {
			files, err = par.ExportToJSONFiles(ctx, g.outDir)
		} else {
			files, err = par.ExportToCSVFiles(ctx, g.outDir, g.columns...)
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		if err != nil {
			return err
		}
		logger.Info().Int("files", len(files)).Dur("elapsed", time.Since(start)).Msg("Export complete")
		return nil
	}

	err = writeOutput(g.out, cmd.OutOrStdout(), func(w io.Writer) error {
		if g.format == formatJSON {
			return par.ExportToJSON(ctx, w)
		}
		return par.ExportToCSV(ctx, w, g.columns...)
	})
	if err != nil {
		return err
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("Export complete")
	return nil
}

// parallelOptions overlays the get flags on the configured defaults.
func (a *app) parallelOptions(g *getFlags) (pagination.ParallelOptions, error) {
	opts := a.cfg.ParallelOptions()
	opts.SplitOn = g.splitOn
	if g.chunkSize > 0 {
		opts.ChunkSize = g.chunkSize
	}
	if g.maxWorkers > 0 {
		opts.MaxWorkers = g.maxWorkers
	}
	if g.timeIncrement != "" {
		inc, err := pagination.ParseIncrement(g.timeIncrement)
		if err != nil {
			return opts, err
		}
		opts.TimeIncrement = inc
	}
	opts.HeightIncrement = g.heightIncrement
	return opts, nil
}

func newCatalogCmd(a *app) *cobra.Command {
	o := &outputFlags{}
	var level string
	cmd := &cobra.Command{
		Use:   "catalog <kind>",
		Short: "Export a flattened catalog",
		Long: `Export a catalog with nested lists exploded into one row per entry.
Run "cm-export kinds" for the supported kinds and secondary levels.`,
		Example: `  cm-export catalog assets --level metrics -p assets=btc
  cm-export catalog market-metrics -p markets=coinbase-btc-usd-spot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			kind, err := catalog.Lookup(args[0])
			if err != nil {
				return err
			}
			if _, err := kind.Level(level); err != nil {
				return err
			}
			p, err := parseParams(o.params)
			if err != nil {
				return err
			}
			return a.withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				if o.refresh {
					if _, err := c.InvalidateCache(ctx, kind.Endpoint); err != nil {
						return err
					}
				}
				data, err := c.Catalog(ctx, kind.Name, p)
				if err != nil {
					return err
				}
				rows, err := data.Flatten(level)
				if err != nil {
					return err
				}
				err = writeOutput(o.out, cmd.OutOrStdout(), func(w io.Writer) error {
					var err error
					if o.format == formatJSON {
						_, err = export.WriteJSONLines(ctx, w, export.FromSlice(rows))
					} else {
						_, err = export.WriteCSV(ctx, w, export.FromSlice(rows), o.columns)
					}
					return err
				})
				if err != nil {
					return err
				}
				a.logger.Info().
					Str("kind", kind.Name).
					Str("level", level).
					Int("entries", len(data.Records)).
					Int("rows", len(rows)).
					Msg("Catalog exported")
				return nil
			})
		},
	}
	o.register(cmd)
	cmd.Flags().StringVar(&level, "level", "", "Secondary level to flatten (default: the kind's top level)")
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List catalog kinds and their secondary levels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tENDPOINT\tLEVELS")
			for _, name := range catalog.Kinds() {
				k, err := catalog.Lookup(name)
				if err != nil {
					return err
				}
				levels := strings.Join(k.ValidLevels(), ",")
				if levels == "" {
					levels = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, k.Endpoint, levels)
			}
			return tw.Flush()
		},
	}
}

// parseParams turns key=value pairs into query parameters. Later pairs
// override earlier ones.
func parseParams(pairs []string) (map[string]any, error) {
	p := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (want key=value)", pair)
		}
		p[key] = value
	}
	return p, nil
}

// writeOutput runs write against path, or against stdout when path is
// empty or "-". A file is removed when write fails.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
