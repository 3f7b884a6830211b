package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/WSDOT-GIS/geoportal-identify/internal/config"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

type identifyOptions struct {
	mapPath      string
	x, y         float64
	wkid         int
	format       string
	strict       bool
	output       string
	prefix       string
	overwrite    bool
	skipExisting bool
}

var identifyOpts identifyOptions

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify features at a map point",
	Long:  "Queries every visible layer of the map file at --x/--y and prints the joined results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runIdentify(ctx, cfg, identifyOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := identifyCmd.Flags()
	f.StringVar(&identifyOpts.mapPath, "map", "", "Map session file (default: map.path from config)")
	f.Float64Var(&identifyOpts.x, "x", 0, "Point x in the map's spatial reference")
	f.Float64Var(&identifyOpts.y, "y", 0, "Point y in the map's spatial reference")
	f.IntVar(&identifyOpts.wkid, "wkid", 0, "Spatial reference of the point (default: the map extent's)")
	f.StringVar(&identifyOpts.format, "format", FormatJSON, "Output format (json, geojson, csv, text, kml, gpx, shp)")
	f.BoolVar(&identifyOpts.strict, "strict", false, "Fail when any layer fails")
	f.StringVar(&identifyOpts.output, "output", "", "Output directory (default: stdout)")
	f.StringVar(&identifyOpts.prefix, "prefix", "", "Prefix for the output filename")
	f.BoolVar(&identifyOpts.overwrite, "overwrite", false, "Overwrite an existing output file")
	f.BoolVar(&identifyOpts.skipExisting, "skip-existing", false, "Skip writing if the output file exists")
	_ = identifyCmd.MarkFlagRequired("x")
	_ = identifyCmd.MarkFlagRequired("y")

	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, c *config.Config, opts identifyOptions, out io.Writer) error {
	if _, ok := fileExtensions[opts.format]; !ok {
		return eris.Errorf("unsupported format: %s", opts.format)
	}
	if opts.format == FormatShapefile && opts.output == "" {
		return eris.New("shp output needs --output")
	}

	env, err := newEnvironment(c, opts.mapPath, opts.strict)
	if err != nil {
		return err
	}

	view := env.file.Snapshot()
	pt := arcgis.Point{X: opts.x, Y: opts.y, SpatialReference: view.Bounds.SpatialReference}
	if opts.wkid != 0 {
		pt.SpatialReference = &arcgis.SpatialReference{WKID: opts.wkid}
	}

	printInfo(fmt.Sprintf("Identifying at (%g, %g) across %d layer(s)...", opts.x, opts.y, len(view.Layers)))
	res, err := env.coord.Identify(ctx, pt)
	if err != nil {
		return err
	}

	if opts.format == FormatShapefile {
		paths, err := writeShapefileOutput(opts.output, opts.prefix, res, opts.overwrite, opts.skipExisting)
		switch {
		case errors.Is(err, errSkippedExisting):
			printWarning(fmt.Sprintf("Skipped %s (output file exists).", paths[0]))
		case err != nil:
			return err
		default:
			for _, p := range paths {
				printSuccess(fmt.Sprintf("Wrote %s", p))
			}
		}
		return summarize(res)
	}

	data, err := renderResults(ctx, res, opts.format, env.templates)
	if err != nil {
		return err
	}

	if opts.output == "" {
		if _, err := io.WriteString(out, data); err != nil {
			return err
		}
	} else {
		path, err := writeOutput(opts.output, opts.prefix, res.Seq, opts.format, data, opts.overwrite, opts.skipExisting)
		switch {
		case errors.Is(err, errSkippedExisting):
			printWarning(fmt.Sprintf("Skipped %s (output file exists).", path))
		case err != nil:
			return err
		default:
			printSuccess(fmt.Sprintf("Wrote %s", path))
		}
	}
	return summarize(res)
}

func summarize(res *identify.Results) error {
	failed := len(res.Errors())
	summary := fmt.Sprintf("Identify complete. %d layer(s) answered, %d failed.", len(res.Layers)-failed, failed)
	if failed > 0 {
		printWarning(summary)
	} else {
		printSuccess(summary)
	}
	return nil
}
