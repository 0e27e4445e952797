package civic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
)

// Sync status values recorded on the DataSource audit row.
const (
	SyncSuccess = "success"
	SyncPartial = "partial"
	SyncFailed  = "failed"
)

// StatusStore persists per-source sync outcomes.
type StatusStore interface {
	UpsertDataSource(ctx context.Context, ds *DataSource) error
}

// SourceOutcome is one source's slot in the sync report.
type SourceOutcome struct {
	Source   string `json:"source"`
	Status   string `json:"status"`
	Report   Report `json:"report"`
	Error    string `json:"error,omitempty"`
	TookMs   int64  `json:"took_ms"`
}

// Orchestrator sequences ingestion → reconciliation across sources. Sources
// run concurrently and fail independently; a failing source records its own
// status row and never aborts the run.
type Orchestrator struct {
	sources []ingest.SourceIngestor
	recon   *Reconciler
	status  StatusStore
	timeout time.Duration
}

func NewOrchestrator(sources []ingest.SourceIngestor, recon *Reconciler, status StatusStore, cfg Config) *Orchestrator {
	return &Orchestrator{
		sources: sources,
		recon:   recon,
		status:  status,
		timeout: cfg.SourceTimeout(),
	}
}

// RunSync runs every registered source once and returns the per-source
// outcomes in registration order. Invoked by an external scheduler; the
// orchestrator never schedules itself.
func (o *Orchestrator) RunSync(ctx context.Context) []SourceOutcome {
	outcomes := make([]SourceOutcome, len(o.sources))

	var wg sync.WaitGroup
	for i, src := range o.sources {
		wg.Add(1)
		go func(i int, src ingest.SourceIngestor) {
			defer wg.Done()
			outcomes[i] = o.runSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	return outcomes
}

func (o *Orchestrator) runSource(ctx context.Context, src ingest.SourceIngestor) SourceOutcome {
	name := src.Name()
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	outcome := SourceOutcome{Source: name}

	batch, err := src.Fetch(sctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		outcome.Status = SyncFailed
		outcome.Error = err.Error()
		log.Printf("[sync] source=%s fetch failed: %v", name, err)
	} else {
		rep, rerr := o.recon.ReconcileBatch(sctx, name, batch)
		outcome.Report = rep
		switch {
		case rerr != nil:
			outcome.Status = SyncFailed
			outcome.Error = rerr.Error()
			log.Printf("[sync] source=%s reconcile failed: %v", name, rerr)
		case rep.Conflicts > 0 || len(rep.Warnings) > 0:
			outcome.Status = SyncPartial
		default:
			outcome.Status = SyncSuccess
		}
	}

	outcome.TookMs = time.Since(start).Milliseconds()
	o.flushStatus(outcome)

	log.Printf("[sync] source=%s status=%s inserted=%d updated=%d unchanged=%d conflicts=%d took=%dms",
		name, outcome.Status, outcome.Report.Inserted, outcome.Report.Updated,
		outcome.Report.Unchanged, outcome.Report.Conflicts, outcome.TookMs)

	return outcome
}

// flushStatus writes the DataSource audit row on a detached context so a
// cancelled sync run still keeps the outcomes computed before cancellation.
func (o *Orchestrator) flushStatus(outcome SourceOutcome) {
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ds := &DataSource{
		SourceName:   outcome.Source,
		LastSync:     time.Now(),
		Status:       outcome.Status,
		ErrorMessage: outcome.Error,
		Inserted:     outcome.Report.Inserted,
		Updated:      outcome.Report.Updated,
		Unchanged:    outcome.Report.Unchanged,
		Conflicts:    outcome.Report.Conflicts,
	}
	if err := o.status.UpsertDataSource(fctx, ds); err != nil {
		log.Printf("[sync] source=%s status write failed: %v", outcome.Source, err)
	}
}
