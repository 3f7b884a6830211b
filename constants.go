package main

const (
	FormatJSON       = "json"
	FormatGeoJSON    = "geojson"
	FormatCSV        = "csv"
	FormatText       = "text"
	FormatKML        = "kml"
	FormatGPX        = "gpx"
	FormatShapefile  = "shp"
	OutputNameFormat = "identify_%d"
	DirPerm          = 0750
	FilePerm         = 0600
	JSONIndent       = "  "
)

// fileExtensions maps output formats to file extensions.
var fileExtensions = map[string]string{
	FormatJSON:      "json",
	FormatGeoJSON:   "geojson",
	FormatCSV:       "csv",
	FormatText:      "txt",
	FormatKML:       "kml",
	FormatGPX:       "gpx",
	FormatShapefile: "shp",
}
