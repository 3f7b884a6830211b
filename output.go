package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/convert"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/export"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/template"
)

// ANSI color codes for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var (
	// useColor controls whether colored output is enabled.
	useColor = true
	// statusOut receives status messages; stdout carries results.
	statusOut io.Writer = os.Stderr
)

var errSkippedExisting = eris.New("skipped existing file")

func printColor(colorCode string, message string) {
	if useColor {
		fmt.Fprintf(statusOut, "%s%s%s\n", colorCode, message, colorReset)
	} else {
		fmt.Fprintln(statusOut, message)
	}
}

func printInfo(message string)    { printColor(colorCyan, message) }
func printSuccess(message string) { printColor(colorGreen, message) }
func printWarning(message string) { printColor(colorYellow, message) }
func printError(message string)   { printColor(colorRed, message) }

// renderResults formats results for output. JSON output carries popup titles
// and static content rendered by templates.
func renderResults(ctx context.Context, res *identify.Results, format string, templates *template.Factory) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		doc := convert.ToDocument(res, templates.Decorator(ctx))
		doc.Latest = true
		data, err := json.MarshalIndent(doc, "", JSONIndent)
		if err != nil {
			return "", eris.Wrap(err, "failed to marshal results to JSON")
		}
		return string(data) + "\n", nil
	case FormatGeoJSON:
		fc, err := convert.ToGeoJSON(res)
		if err != nil {
			return "", eris.Wrap(err, "failed to convert results to GeoJSON")
		}
		data, err := json.MarshalIndent(fc, "", JSONIndent)
		if err != nil {
			return "", eris.Wrap(err, "failed to marshal GeoJSON")
		}
		return string(data) + "\n", nil
	case FormatCSV:
		return convert.ToCSV(res)
	case FormatText:
		return convert.ToText(res)
	case FormatKML:
		return export.ToKML(res, fmt.Sprintf("Identify #%d", res.Seq))
	case FormatGPX:
		return export.ToGPX(res, fmt.Sprintf("Identify #%d", res.Seq))
	}
	return "", eris.Errorf("unsupported format: %s", format)
}

// writeShapefileOutput writes results as shapefiles named
// <prefix>identify_<seq>_<type>.shp under dir. Existing files follow the same
// overwrite and skip rules as writeOutput.
func writeShapefileOutput(dir, prefix string, res *identify.Results, overwrite, skipExisting bool) ([]string, error) {
	base := prefix + fmt.Sprintf(OutputNameFormat, res.Seq)
	for _, p := range export.ShapefilePaths(dir, base) {
		if _, err := os.Stat(p); err == nil {
			if skipExisting {
				return []string{p}, errSkippedExisting
			}
			if !overwrite {
				return nil, eris.Errorf("output file %s already exists. Use --overwrite or --skip-existing", p)
			}
			printWarning(fmt.Sprintf("Overwriting existing file: %s", p))
		}
	}

	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return nil, eris.Wrapf(err, "failed to create output directory %s", dir)
	}
	paths, err := export.WriteShapefiles(res, dir, base)
	if err != nil {
		return nil, eris.Wrap(err, "failed to write shapefiles")
	}
	return paths, nil
}

// writeOutput writes data to <dir>/<prefix>identify_<seq>.<ext> and returns
// the path. An existing file is an error unless overwrite or skipExisting is
// set; skipping returns errSkippedExisting.
func writeOutput(dir, prefix string, seq uint64, format, data string, overwrite, skipExisting bool) (string, error) {
	ext, ok := fileExtensions[strings.ToLower(format)]
	if !ok {
		return "", eris.Errorf("unsupported format: %s", format)
	}
	filename := prefix + fmt.Sprintf(OutputNameFormat, seq) + "." + ext
	outputPath := filepath.Join(dir, filename)

	if _, err := os.Stat(outputPath); err == nil {
		if skipExisting {
			return outputPath, errSkippedExisting
		}
		if !overwrite {
			return "", eris.Errorf("output file %s already exists. Use --overwrite or --skip-existing", outputPath)
		}
		printWarning(fmt.Sprintf("Overwriting existing file: %s", outputPath))
	} else if !os.IsNotExist(err) {
		return "", eris.Wrapf(err, "failed to check output file status %s", outputPath)
	}

	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return "", eris.Wrapf(err, "failed to create output directory %s", dir)
	}
	if err := os.WriteFile(outputPath, []byte(data), FilePerm); err != nil {
		return "", eris.Wrapf(err, "failed to write output file %s", outputPath)
	}
	return outputPath, nil
}
