package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// MaxBatch is the hard cap on CBSAs per batch.
const MaxBatch = 100

// Batch item statuses.
const (
	ItemCompleted = "completed"
	ItemFailed    = "failed"
	ItemCancelled = "cancelled"
)

// BatchItem is the outcome for one CBSA of a batch.
type BatchItem struct {
	CBSAID    string                 `json:"cbsa_id"`
	Status    string                 `json:"status"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind calcerr.Kind           `json:"error_kind,omitempty"`
	Series    *model.IndexTimeSeries `json:"series,omitempty"`
	Revisions int                    `json:"revisions,omitempty"`
	Elapsed   time.Duration          `json:"elapsed"`
}

// BatchResult holds one item per requested CBSA in request order.
type BatchResult struct {
	Items     []BatchItem   `json:"items"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Elapsed   time.Duration `json:"elapsed"`
}

// BatchCalculate runs Calculate for each CBSA with bounded concurrency. A
// failing CBSA is recorded on its item and never stops its siblings; CBSAs
// not started when ctx ends are marked cancelled.
func (p *Pipeline) BatchCalculate(ctx context.Context, cbsaIDs []string) (*BatchResult, error) {
	if len(cbsaIDs) == 0 {
		return nil, calcerr.Validation("batch", "", "at least one cbsa id is required")
	}
	if len(cbsaIDs) > p.opts.MaxBatch {
		return nil, calcerr.Capacity("batch", len(cbsaIDs), p.opts.MaxBatch)
	}
	seen := make(map[string]struct{}, len(cbsaIDs))
	for _, id := range cbsaIDs {
		if id == "" {
			return nil, calcerr.Validation("batch", "", "cbsa id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return nil, calcerr.Validation("batch", id, "duplicate cbsa id")
		}
		seen[id] = struct{}{}
	}

	log := zap.L().With(zap.String("component", "pipeline.batch"))
	log.Info("batch: starting", zap.Int("cbsas", len(cbsaIDs)), zap.Int("concurrency", p.opts.BatchConcurrency))
	start := time.Now()

	items := make([]BatchItem, len(cbsaIDs))

	// Siblings share ctx but not failure, so the group context is unused.
	var g errgroup.Group
	g.SetLimit(p.opts.BatchConcurrency)
	for i, id := range cbsaIDs {
		g.Go(func() error {
			items[i] = p.batchItem(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{Items: items, Elapsed: time.Since(start)}
	for _, it := range items {
		switch it.Status {
		case ItemCompleted:
			res.Completed++
		case ItemCancelled:
			res.Cancelled++
		default:
			res.Failed++
		}
	}
	log.Info("batch: complete",
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Int("cancelled", res.Cancelled),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (p *Pipeline) batchItem(ctx context.Context, cbsaID string) BatchItem {
	start := time.Now()
	item := BatchItem{CBSAID: cbsaID}

	var err error
	if cerr := ctx.Err(); cerr != nil {
		err = calcerr.Cancelled("batch", cbsaID, cerr)
	} else {
		var res *Result
		res, err = p.Calculate(ctx, cbsaID)
		if err == nil {
			item.Status = ItemCompleted
			item.Series = res.Series
			item.Revisions = len(res.Revisions)
		}
	}
	item.Elapsed = time.Since(start)
	if err == nil {
		return item
	}

	item.Error = err.Error()
	item.ErrorKind = calcerr.KindOf(err)
	if calcerr.Is(err, calcerr.KindCancelled) || ctx.Err() != nil {
		item.Status = ItemCancelled
		item.ErrorKind = calcerr.KindCancelled
	} else {
		item.Status = ItemFailed
	}
	zap.L().Warn("batch: cbsa failed",
		zap.String("component", "pipeline.batch"),
		zap.String("cbsa_id", cbsaID),
		zap.String("status", item.Status),
		zap.Error(err),
	)
	return item
}
