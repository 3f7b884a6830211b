package convert

// Column and property names added to converted results.
const (
	ColumnWKT       = "WKT_Geometry"
	ColumnLayerID   = "_layerId"
	ColumnLayerName = "_layerName"
	ColumnSubLayer  = "_subLayerId"
	ColumnValue     = "_value"
)
