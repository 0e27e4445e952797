package civic_test

import (
	"context"
	"errors"
	"testing"

	civic "github.com/CivicDataHub/CDH-Backend/internal/civic"
	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scripted ingestor for orchestrator tests.
type fakeSource struct {
	name  string
	batch ingest.Batch
	err   error

	// waitForCtx makes Fetch block until the context ends, simulating a
	// hung upstream.
	waitForCtx bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context) (ingest.Batch, error) {
	if f.waitForCtx {
		<-ctx.Done()
		return ingest.Batch{}, ctx.Err()
	}
	if f.err != nil {
		return ingest.Batch{}, f.err
	}
	return f.batch, nil
}

func (f *fakeSource) HealthCheck(ctx context.Context) error { return nil }

func newTestOrchestrator(cfg civic.Config, sources ...ingest.SourceIngestor) (*civic.Orchestrator, *fakeStore) {
	store := newFakeStore()
	geo := newFakeGeo(store)
	recon := civic.NewReconciler(store, geo, cfg)
	return civic.NewOrchestrator(sources, recon, store, cfg), store
}

func TestRunSync_SourcesFailIndependently(t *testing.T) {
	good := &fakeSource{
		name:  "openstates",
		batch: ingest.Batch{Officials: []ingest.OfficialDraft{officialDraft("Jordan Alvarez", "ocd-person/1")}},
	}
	bad := &fakeSource{name: "tiger", err: errors.New("upstream 500")}

	o, store := newTestOrchestrator(testConfig(), good, bad)
	outcomes := o.RunSync(context.Background())
	require.Len(t, outcomes, 2)

	byName := map[string]civic.SourceOutcome{}
	for _, out := range outcomes {
		byName[out.Source] = out
	}

	// Placeholder-district creation warns, so the good source lands partial.
	assert.Equal(t, civic.SyncPartial, byName["openstates"].Status)
	assert.Equal(t, 1, byName["openstates"].Report.Inserted)
	assert.Equal(t, civic.SyncFailed, byName["tiger"].Status)
	assert.Contains(t, byName["tiger"].Error, "upstream 500")

	assert.NotNil(t, store.officialBySource("openstates", "ocd-person/1"),
		"one source failing must not abort the others")
}

func TestRunSync_StatusRowAlwaysWritten(t *testing.T) {
	bad := &fakeSource{name: "tiger", err: errors.New("upstream 500")}

	o, store := newTestOrchestrator(testConfig(), bad)
	o.RunSync(context.Background())

	rows, err := store.DataSources(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tiger", rows[0].SourceName)
	assert.Equal(t, civic.SyncFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "upstream 500")
	assert.False(t, rows[0].LastSync.IsZero())
}

func TestRunSync_CleanRunIsSuccess(t *testing.T) {
	src := &fakeSource{
		name:  "tiger",
		batch: ingest.Batch{Districts: []ingest.DistrictDraft{districtDraft("40")}},
	}

	o, store := newTestOrchestrator(testConfig(), src)
	outcomes := o.RunSync(context.Background())
	require.Len(t, outcomes, 1)
	assert.Equal(t, civic.SyncSuccess, outcomes[0].Status)
	assert.Equal(t, 1, outcomes[0].Report.Inserted)

	rows, err := store.DataSources(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Inserted)
}

func TestRunSync_ConflictsReportPartial(t *testing.T) {
	src := &fakeSource{
		name: "tiger",
		batch: ingest.Batch{Districts: []ingest.DistrictDraft{
			{Name: "keyless"}, // missing type and code
		}},
	}

	o, _ := newTestOrchestrator(testConfig(), src)
	outcomes := o.RunSync(context.Background())
	require.Len(t, outcomes, 1)
	assert.Equal(t, civic.SyncPartial, outcomes[0].Status)
	assert.Equal(t, 1, outcomes[0].Report.Conflicts)
}

func TestRunSync_HungSourceTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.SourceTimeoutSeconds = 1
	hung := &fakeSource{name: "tiger", waitForCtx: true}

	o, store := newTestOrchestrator(cfg, hung)
	outcomes := o.RunSync(context.Background())
	require.Len(t, outcomes, 1)
	assert.Equal(t, civic.SyncFailed, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].Error)

	rows, err := store.DataSources(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, civic.SyncFailed, rows[0].Status)
}

func TestRunSync_CancelledRunStillFlushesStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hung := &fakeSource{name: "tiger", waitForCtx: true}
	o, store := newTestOrchestrator(testConfig(), hung)
	outcomes := o.RunSync(ctx)
	require.Len(t, outcomes, 1)
	assert.Equal(t, civic.SyncFailed, outcomes[0].Status)

	// The audit row is written on a detached context even though the run's
	// own context is dead.
	rows, err := store.DataSources(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRunSync_NoSources(t *testing.T) {
	o, _ := newTestOrchestrator(testConfig())
	outcomes := o.RunSync(context.Background())
	assert.Empty(t, outcomes)
}
