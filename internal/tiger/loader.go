package tiger

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rsai-cli/internal/model"
)

// TractSaver persists tract units.
type TractSaver interface {
	SaveTracts(ctx context.Context, tracts []model.GeographicUnit) (int64, error)
}

// LoadOptions configures the tract load.
type LoadOptions struct {
	Year        int      // TIGER/Line vintage (default 2024)
	BaseURL     string   // default DefaultBaseURL
	States      []string // abbreviations or FIPS codes; empty = all 50 + DC
	CBSAs       []string // keep only tracts in these CBSAs; empty = every CBSA
	TempDir     string   // download directory
	Concurrency int      // parallel state downloads (default 3)
	Downloader  *Downloader
}

// LoadResult summarizes a tract load.
type LoadResult struct {
	States      int   `json:"states"`
	Read        int   `json:"read"`
	Saved       int64 `json:"saved"`
	OutsideCBSA int   `json:"outside_cbsa"`
}

// Load downloads the tract shapefile of every requested state, assigns each
// tract to its CBSA through the crosswalk and saves the tracts. Tracts in
// counties outside any CBSA are counted and dropped.
func Load(ctx context.Context, saver TractSaver, cw Crosswalk, opts LoadOptions) (*LoadResult, error) {
	if opts.Year == 0 {
		opts.Year = 2024
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.TempDir == "" {
		opts.TempDir = "/tmp/rsai-tiger"
	}
	if opts.Downloader == nil {
		opts.Downloader = NewDownloader()
	}
	if len(cw) == 0 {
		return nil, eris.New("tiger: empty county crosswalk")
	}

	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.Int("year", opts.Year),
	)

	// Resolve every state before starting any download.
	states := AllStateFIPS()
	if len(opts.States) > 0 {
		states = make([]string, 0, len(opts.States))
		for _, s := range opts.States {
			fips, err := StateFIPS(s)
			if err != nil {
				return nil, err
			}
			states = append(states, fips)
		}
	}

	keep := make(map[string]bool, len(opts.CBSAs))
	for _, c := range opts.CBSAs {
		keep[c] = true
	}

	var (
		mu     sync.Mutex
		units  []model.GeographicUnit
		result = &LoadResult{States: len(states)}
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, fips := range states {
		g.Go(func() error {
			url := TractURL(opts.BaseURL, opts.Year, fips)
			shpPath, err := opts.Downloader.Download(gCtx, url, filepath.Join(opts.TempDir, fips))
			if err != nil {
				return eris.Wrapf(err, "tiger: download tracts for state %s", fips)
			}
			recs, err := ReadTracts(shpPath)
			if err != nil {
				return err
			}

			stateUnits, outside := assignTracts(recs, cw, keep)

			mu.Lock()
			units = append(units, stateUnits...)
			result.Read += len(recs)
			result.OutsideCBSA += outside
			mu.Unlock()

			abbr, _ := AbbrFromFIPS(fips)
			log.Info("state tracts read",
				zap.String("state", fips),
				zap.String("abbr", abbr),
				zap.Int("tracts", len(recs)),
				zap.Int("kept", len(stateUnits)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	saved, err := saver.SaveTracts(ctx, units)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: save tracts")
	}
	result.Saved = saved

	log.Info("tract load complete",
		zap.Int("states", result.States),
		zap.Int("read", result.Read),
		zap.Int64("saved", result.Saved),
		zap.Int("outside_cbsa", result.OutsideCBSA),
	)
	return result, nil
}

// assignTracts converts records into tract units parented by their CBSA.
// It returns the units and the number of records outside any CBSA. Records
// in CBSAs not listed in keep are dropped silently when keep is non-empty.
func assignTracts(recs []TractRecord, cw Crosswalk, keep map[string]bool) ([]model.GeographicUnit, int) {
	var out []model.GeographicUnit
	var outside int
	for _, r := range recs {
		cbsa, ok := cw.CBSA(r.CountyFIPS)
		if !ok {
			outside++
			continue
		}
		if len(keep) > 0 && !keep[cbsa] {
			continue
		}
		u := model.NewTract(r.GEOID, cbsa, r.Latitude, r.Longitude, model.TractAttributes{
			TractCode:  r.TractCode,
			CountyFIPS: r.CountyFIPS,
			StateFIPS:  r.StateFIPS,
		})
		u.Name = r.Name
		u.TotalAreaSqKm = r.LandAreaM2 / 1e6
		out = append(out, u)
	}
	return out, outside
}
