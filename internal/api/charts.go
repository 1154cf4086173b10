package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/httputil"
)

// histogramChart renders a quick value histogram (HTML) of a persisted
// product using go-echarts. This is a debugging-only endpoint (no auth) to
// eyeball a product's value distribution without a frontend.
// Query params:
//   - sources (required; comma-separated fingerprints)
//   - kind (required)
//   - param_hash (optional; empty matches the default-params hash)
//   - bins (optional; default 40)
func (s *Server) histogramChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	sources, kind, paramHash, ok := productQuery(r)
	if !ok {
		httputil.BadRequest(w, "sources and kind query parameters required")
		return
	}

	bins := 40
	if b := r.URL.Query().Get("bins"); b != "" {
		if v, err := strconv.Atoi(b); err == nil && v >= 4 && v <= 400 {
			bins = v
		}
	}

	p, err := s.store.LoadProduct(r.Context(), sources, kind, paramHash)
	if err != nil {
		httputil.NotFound(w, "no such product")
		return
	}

	labels, counts := histogramBuckets(p.Grid, bins)
	if labels == nil {
		httputil.NotFound(w, "product has no valid pixels")
		return
	}

	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		data[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Product Histogram", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s histogram", p.Kind),
			Subtitle: fmt.Sprintf("sources=%d valid=%.1f%% bins=%d", len(p.Sources), p.Quality.ValidPixelFraction*100, bins),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels"}),
	)
	bar.SetXAxis(labels).AddSeries("pixels", data)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// histogramBuckets bins the grid's valid samples into equal-width buckets.
// Returns nil labels when no valid pixels exist.
func histogramBuckets(g *geo.RasterGrid, bins int) ([]string, []int) {
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, v := range g.Data {
		if g.IsNoData(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return nil, nil
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		width = 1
	}

	counts := make([]int, bins)
	for _, v := range g.Data {
		if g.IsNoData(v) {
			continue
		}
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}

	labels := make([]string, bins)
	for i := range labels {
		labels[i] = strconv.FormatFloat(lo+(float64(i)+0.5)*width, 'g', 4, 64)
	}
	return labels, counts
}
