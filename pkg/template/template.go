// Package template builds feature popup templates from layer schemas.
package template

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

var (
	placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)
	bodyRe        = regexp.MustCompile(`(?is)<body[^>]*>(.*)</body>`)
)

// Template renders the title and body of a feature popup. A deferred template
// has no static content; its body is the server-rendered htmlPopup of the
// feature.
type Template struct {
	Title    string
	Content  string
	Deferred bool

	info    *arcgis.LayerInfo
	factory *Factory
}

// RenderTitle substitutes attribute values into the title.
func (t *Template) RenderTitle(attrs map[string]any) string {
	return substitute(t.Title, attrs)
}

// RenderContent returns the popup body for a feature. Deferred templates fetch
// it from the layer's htmlPopup endpoint and return the contents of <body>.
func (t *Template) RenderContent(ctx context.Context, attrs map[string]any) (string, error) {
	if !t.Deferred {
		return substitute(t.Content, attrs), nil
	}

	oidField, ok := t.info.ObjectIDField()
	if !ok {
		return "", &identify.SchemaError{LayerURL: t.info.URL, Reason: "no object-id field for html popup"}
	}
	v, ok := attrs[oidField.Name]
	if !ok || v == nil {
		return "", &identify.SchemaError{
			LayerURL: t.info.URL,
			Reason:   fmt.Sprintf("feature has no value for object-id field %s", oidField.Name),
		}
	}

	format := arcgis.PopupFormatHTML
	if t.info.HTMLPopupType == arcgis.HTMLPopupAsHTMLText {
		format = arcgis.PopupFormatJSON
	}
	content, err := t.factory.popup(ctx, t.info.URL, formatValue(v), format)
	if err != nil {
		return "", err
	}
	return extractBody(content), nil
}

// RenderObjectID renders the popup body of the feature with the given object
// id. It is meant for deferred templates, whose body depends only on the id.
func (t *Template) RenderObjectID(ctx context.Context, objectID string) (string, error) {
	oidField, ok := t.info.ObjectIDField()
	if !ok {
		return "", &identify.SchemaError{LayerURL: t.info.URL, Reason: "no object-id field"}
	}
	return t.RenderContent(ctx, map[string]any{oidField.Name: objectID})
}

// build derives a template from a layer schema.
func build(info *arcgis.LayerInfo, f *Factory) *Template {
	t := &Template{
		info:    info,
		factory: f,
	}
	if info.DisplayField != "" {
		t.Title = "${" + info.DisplayField + "}"
	}
	switch info.HTMLPopupType {
	case arcgis.HTMLPopupAsHTMLText, arcgis.HTMLPopupAsURL:
		t.Deferred = true
	default:
		t.Content = fieldTable(info.Fields)
	}
	return t
}

func fieldTable(fields []arcgis.Field) string {
	var sb strings.Builder
	sb.WriteString("<table class='attributes'><tbody>")
	for _, f := range fields {
		label := f.Alias
		if label == "" {
			label = f.Name
		}
		sb.WriteString("<tr><th>")
		sb.WriteString(html.EscapeString(label))
		sb.WriteString("</th><td data-type='")
		sb.WriteString(html.EscapeString(f.Type))
		sb.WriteString("'")
		if f.Length > 0 {
			sb.WriteString(" data-length='")
			sb.WriteString(strconv.Itoa(f.Length))
			sb.WriteString("'")
		}
		sb.WriteString(">${")
		sb.WriteString(f.Name)
		sb.WriteString("}</td></tr>")
	}
	sb.WriteString("</tbody></table>")
	return sb.String()
}

// DefaultTemplate renders an attribute table from a feature's own attributes,
// for results without a schema.
func DefaultTemplate(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("<table class='attributes'><tbody>")
	for _, k := range keys {
		sb.WriteString("<tr><th>")
		sb.WriteString(html.EscapeString(k))
		sb.WriteString("</th><td>")
		sb.WriteString(html.EscapeString(formatValue(attrs[k])))
		sb.WriteString("</td></tr>")
	}
	sb.WriteString("</tbody></table>")
	return sb.String()
}

func substitute(s string, attrs map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		return html.EscapeString(formatValue(attrs[name]))
	})
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func extractBody(s string) string {
	if m := bodyRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}
