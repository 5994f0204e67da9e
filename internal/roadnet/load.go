package roadnet

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terravia-group/roadops-cli/internal/store"
)

// LoadOptions configures a road-network load.
type LoadOptions struct {
	BatchSize int  // rows per store write (default 5,000)
	DryRun    bool // parse and validate without writing
}

// Load parses a shapefile and bulk-loads its road segments. Returns the
// number of segments written (or parsed, under DryRun).
func Load(ctx context.Context, segments store.SegmentStore, shpPath string, opts LoadOptions) (int64, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}

	rows, err := ParseShapefile(shpPath)
	if err != nil {
		return 0, err
	}

	log := zap.L().With(zap.String("file", shpPath))
	log.Info("road network parsed", zap.Int("segments", len(rows)))

	if opts.DryRun {
		return int64(len(rows)), nil
	}

	var total int64
	for start := 0; start < len(rows); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return total, eris.Wrap(err, "roadnet: canceled")
		}

		end := start + opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}

		n, err := segments.UpsertSegments(ctx, rows[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "roadnet: load batch at %d", start)
		}
		total += n

		log.Info("load progress", zap.Int("loaded", end), zap.Int("total", len(rows)))
	}

	return total, nil
}
