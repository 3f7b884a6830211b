package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAttributes(t *testing.T, path string) []map[string]string {
	t.Helper()
	reader, err := shp.Open(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	var rows []map[string]string
	for reader.Next() {
		row := make(map[string]string, len(fields))
		for i, f := range fields {
			row[f.String()] = strings.TrimRight(reader.Attribute(i), "\x00")
		}
		rows = append(rows, row)
	}
	require.NoError(t, reader.Err())
	return rows
}

func TestWriteShapefiles(t *testing.T) {
	dir := t.TempDir()

	paths, err := WriteShapefiles(testResults, dir, "identify_1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "identify_1_point.shp"),
		filepath.Join(dir, "identify_1_polyline.shp"),
		filepath.Join(dir, "identify_1_polygon.shp"),
	}, paths)

	for _, p := range paths {
		stem := strings.TrimSuffix(p, ".shp")
		for _, ext := range []string{".shp", ".shx", ".dbf"} {
			_, err := os.Stat(stem + ext)
			assert.NoError(t, err, stem+ext)
		}
	}

	points := readAttributes(t, paths[0])
	require.Len(t, points, 1)
	assert.Equal(t, "cities", points[0]["LAYER_ID"])
	assert.Equal(t, "Cities", points[0]["LAYER_NAME"])
	assert.Equal(t, "Olympia", points[0]["VALUE"])
	assert.Equal(t, "Olympia & Co", points[0]["Name"])
	assert.Equal(t, "1", points[0]["OBJECTID"])

	reader, err := shp.Open(paths[2])
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	assert.Equal(t, shp.ShapeType(shp.POLYGON), reader.GeometryType)
	require.True(t, reader.Next())
	_, shape := reader.Shape()
	polygon, ok := shape.(*shp.Polygon)
	require.True(t, ok)
	assert.Equal(t, int32(2), polygon.NumParts)
}

func TestWriteShapefiles_Empty(t *testing.T) {
	_, err := WriteShapefiles(nil, t.TempDir(), "x")
	assert.Error(t, err)

	assert.Len(t, ShapefilePaths("out", "identify_2"), 4)
}

func TestDBFFieldNames(t *testing.T) {
	got := dbfFieldNames([]string{"VALUE", "ROUTE_IDENTIFIER", "ROUTE_IDENTIFIER_2", "Short"})
	assert.Equal(t, []string{"VALUE", "ROUTE_IDEN", "ROUTE_ID_1", "Short"}, got)
}
