package arcgis

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// LayerOption selects which sub-layers of a service an identify request covers.
type LayerOption string

const (
	LayerOptionVisible LayerOption = "visible"
	LayerOptionAll     LayerOption = "all"
)

// ParseLayerOption parses "visible" or "all". Empty means visible.
func ParseLayerOption(s string) (LayerOption, error) {
	switch LayerOption(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayerOptionVisible:
		return LayerOptionVisible, nil
	case LayerOptionAll:
		return LayerOptionAll, nil
	}
	return "", eris.Errorf("unknown layer option %q", s)
}

// DefaultDPI is the display resolution sent in imageDisplay.
const DefaultDPI = 96

// IdentifyParameters are the inputs of a `<service>/identify` request.
type IdentifyParameters struct {
	Geometry       Geometry
	MapExtent      Envelope
	Width          int
	Height         int
	DPI            int
	Tolerance      int
	LayerOption    LayerOption
	LayerIDs       []int
	ReturnGeometry bool
}

// Values encodes the parameters as a REST query.
func (p IdentifyParameters) Values() (url.Values, error) {
	if p.Geometry == nil {
		return nil, eris.New("identify parameters: geometry is required")
	}
	geomJSON, err := json.Marshal(p.Geometry)
	if err != nil {
		return nil, eris.Wrap(err, "identify parameters: encode geometry")
	}

	dpi := p.DPI
	if dpi == 0 {
		dpi = DefaultDPI
	}
	option := p.LayerOption
	if option == "" {
		option = LayerOptionVisible
	}
	layers := string(option)
	if len(p.LayerIDs) > 0 {
		ids := make([]string, len(p.LayerIDs))
		for i, id := range p.LayerIDs {
			ids[i] = strconv.Itoa(id)
		}
		layers += ":" + strings.Join(ids, ",")
	}

	v := url.Values{}
	v.Set("f", "json")
	v.Set("geometry", string(geomJSON))
	v.Set("geometryType", p.Geometry.GeometryType())
	if sr := p.MapExtent.SpatialReference; sr != nil && sr.WKID != 0 {
		v.Set("sr", strconv.Itoa(sr.WKID))
	}
	v.Set("mapExtent", fmt.Sprintf("%g,%g,%g,%g", p.MapExtent.XMin, p.MapExtent.YMin, p.MapExtent.XMax, p.MapExtent.YMax))
	v.Set("imageDisplay", fmt.Sprintf("%d,%d,%d", p.Width, p.Height, dpi))
	v.Set("tolerance", strconv.Itoa(p.Tolerance))
	v.Set("layers", layers)
	v.Set("returnGeometry", strconv.FormatBool(p.ReturnGeometry))
	return v, nil
}
