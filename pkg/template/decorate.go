package template

import (
	"context"

	"go.uber.org/zap"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/convert"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

// Decorator fills result titles and static popup content from layer
// schemas. Deferred popups are only flagged; render them on demand with
// RenderObjectID. Results without a schema get DefaultTemplate.
func (f *Factory) Decorator(ctx context.Context) convert.Decorator {
	return func(r identify.Result, rd *convert.ResultDocument) {
		attrs := rd.Feature.Attributes
		if r.LayerInfo == nil {
			rd.Content = DefaultTemplate(attrs)
			return
		}

		tmpl := f.GetInfoTemplate(r.LayerInfo)
		if title := tmpl.RenderTitle(attrs); title != "" {
			rd.Title = title
		}
		if tmpl.Deferred {
			rd.Deferred = true
			return
		}
		content, err := tmpl.RenderContent(ctx, attrs)
		if err != nil {
			zap.L().Warn("render popup content", zap.String("layer", r.LayerInfo.URL), zap.Error(err))
		}
		rd.Content = content
	}
}
