// Package roadnet migrates desktop GIS road-network files into the
// spatial store. Shapefiles are consumed as an opaque sequence of
// geometry+property records; polylines become EWKB multi-linestrings
// with derived length and bounds.
package roadnet

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	geoutil "github.com/terravia-group/roadops-cli/internal/geo"
	"github.com/terravia-group/roadops-cli/internal/store"
)

// Attribute names probed, in order, for the segment identifier and
// display name of a feature.
var (
	idFields   = []string{"segment_id", "seg_id", "linearid", "osm_id", "id"}
	nameFields = []string{"fullname", "name", "street", "road_name"}
)

// ParseShapefile reads a road-network shapefile into segment rows ready
// for loading. Features without a usable polyline geometry or segment
// identifier are skipped, not fatal.
func ParseShapefile(shpPath string) ([]store.RoadSegmentRow, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(names []string) func() string {
		var idx = -1
		for _, n := range names {
			if i, ok := fieldIdx[n]; ok {
				idx = i
				break
			}
		}
		return func() string {
			if idx < 0 {
				return ""
			}
			val := strings.TrimRight(reader.Attribute(idx), "\x00")
			return strings.TrimSpace(val)
		}
	}
	readID := attr(idFields)
	readName := attr(nameFields)

	var rows []store.RoadSegmentRow
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		pl, ok := shape.(*shp.PolyLine)
		if !ok || pl == nil {
			skipped++
			continue
		}

		segmentID := readID()
		if segmentID == "" {
			skipped++
			continue
		}

		row, err := segmentRow(segmentID, readName(), pl)
		if err != nil {
			zap.L().Debug("roadnet: skipping malformed feature",
				zap.String("segment_id", segmentID), zap.Error(err))
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		zap.L().Info("roadnet: skipped shapefile features",
			zap.String("file", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return rows, nil
}

// segmentRow converts one polyline feature into a loadable segment row.
func segmentRow(segmentID, name string, pl *shp.PolyLine) (store.RoadSegmentRow, error) {
	mls := polyLineToMultiLineString(pl)
	if mls == nil {
		return store.RoadSegmentRow{}, eris.New("roadnet: empty polyline")
	}

	data, err := ewkb.Marshal(mls, ewkb.NDR)
	if err != nil {
		return store.RoadSegmentRow{}, eris.Wrap(err, "roadnet: encode EWKB")
	}

	var coords []geom.Coord
	for i := 0; i < mls.NumLineStrings(); i++ {
		coords = append(coords, mls.LineString(i).Coords()...)
	}
	bounds := geoutil.PathBounds(coords)

	return store.RoadSegmentRow{
		SegmentID: segmentID,
		Name:      name,
		Geom:      data,
		LengthM:   geoutil.MultiLineLengthMeters(mls),
		MinLng:    bounds.MinLng,
		MinLat:    bounds.MinLat,
		MaxLng:    bounds.MaxLng,
		MaxLat:    bounds.MaxLat,
	}, nil
}

// polyLineToMultiLineString converts a shapefile PolyLine to a go-geom
// MultiLineString with SRID 4326.
func polyLineToMultiLineString(pl *shp.PolyLine) *geom.MultiLineString {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY).SetSRID(4326)

	for i := int32(0); i < pl.NumParts; i++ {
		start := pl.Parts[i]
		var end int32
		if i+1 < pl.NumParts {
			end = pl.Parts[i+1]
		} else {
			end = int32(len(pl.Points))
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, pl.Points[j].X, pl.Points[j].Y)
		}
		if len(flat) < 4 {
			continue
		}

		ls := geom.NewLineStringFlat(geom.XY, flat)
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("roadnet: skipping malformed linestring part",
				zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}
