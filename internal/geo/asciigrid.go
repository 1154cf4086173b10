package geo

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseASCIIGrid reads an ESRI ASCII grid (.asc). This is the standardised
// interchange format providers are normalised to; binary formats are decoded
// upstream by the providers themselves. Header keys are case-insensitive and
// either cell-corner (xllcorner) or cell-centre (xllcenter) origins are
// accepted. The CRS is not carried by the format and must be supplied.
func ParseASCIIGrid(r io.Reader, crs string) (*RasterGrid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	header := map[string]float64{}
	var ncols, nrows int
	var dataFirstLine []string

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(fields[0])
		if len(fields) == 2 && isHeaderKey(key) {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("ascii grid header %s: %w", key, err)
			}
			header[key] = v
			continue
		}
		dataFirstLine = fields
		break
	}

	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[k]; !ok {
			return nil, fmt.Errorf("ascii grid missing header %s", k)
		}
	}
	ncols = int(header["ncols"])
	nrows = int(header["nrows"])
	if ncols <= 0 || nrows <= 0 {
		return nil, fmt.Errorf("ascii grid has invalid dimensions %dx%d", ncols, nrows)
	}
	cell := header["cellsize"]
	nodata, ok := header["nodata_value"]
	if !ok {
		nodata = -9999
	}

	// Resolve the top-left corner from the lower-left header, shifting by
	// half a cell when the origin is cell-centre.
	xll, xIsCorner := header["xllcorner"]
	if !xIsCorner {
		c, okc := header["xllcenter"]
		if !okc {
			return nil, fmt.Errorf("ascii grid missing xllcorner/xllcenter")
		}
		xll = c - cell/2
	}
	yll, yIsCorner := header["yllcorner"]
	if !yIsCorner {
		c, okc := header["yllcenter"]
		if !okc {
			return nil, fmt.Errorf("ascii grid missing yllcorner/yllcenter")
		}
		yll = c - cell/2
	}

	tr := Transform{
		OriginX:     xll,
		OriginY:     yll + float64(nrows)*cell,
		PixelWidth:  cell,
		PixelHeight: -cell,
	}
	g, err := NewRasterGrid(crs, tr, ncols, nrows, nodata)
	if err != nil {
		return nil, err
	}

	i := 0
	consume := func(fields []string) error {
		for _, f := range fields {
			if i >= len(g.Data) {
				return fmt.Errorf("ascii grid has more than %d samples", len(g.Data))
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("ascii grid sample %d: %w", i, err)
			}
			g.Data[i] = v
			i++
		}
		return nil
	}
	if err := consume(dataFirstLine); err != nil {
		return nil, err
	}
	for sc.Scan() {
		if err := consume(strings.Fields(sc.Text())); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii grid read: %w", err)
	}
	if i != len(g.Data) {
		return nil, fmt.Errorf("ascii grid has %d samples, want %d", i, len(g.Data))
	}
	return g, nil
}

// WriteASCIIGrid writes the grid in ESRI ASCII form, the consumer-boundary
// raster format. Square pixels are required by the format.
func WriteASCIIGrid(w io.Writer, g *RasterGrid) error {
	xr, yr := g.Resolution()
	if !closeRel(xr, yr, 1e-9) {
		return fmt.Errorf("ascii grid requires square pixels, got %g x %g", xr, yr)
	}
	b := g.Bound()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", g.Width)
	fmt.Fprintf(bw, "nrows %d\n", g.Height)
	fmt.Fprintf(bw, "xllcorner %.10f\n", b.Min[0])
	fmt.Fprintf(bw, "yllcorner %.10f\n", b.Min[1])
	fmt.Fprintf(bw, "cellsize %.12f\n", xr)
	fmt.Fprintf(bw, "NODATA_value %g\n", g.NoData)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			fmt.Fprintf(bw, "%g", g.At(col, row))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}
