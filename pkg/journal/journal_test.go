package journal

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasetiler/internal/models"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func extent(r0, r1, c0, c1 int) models.Extent {
	return models.Extent{Rows: models.Range{Start: r0, Stop: r1}, Cols: models.Range{Start: c0, Stop: c1}}
}

func TestRunLifecycle(t *testing.T) {
	j := openTemp(t)
	id := uuid.New().String()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.StartRun(Run{
		ID: id, Started: started, Rows: 100, Cols: 100,
		TileRows: 40, TileCols: 40, OverlapRows: 8, OverlapCols: 8,
		DecimationRows: 10, DecimationCols: 10,
		Upsample: "nearest", Statistic: "mean", FailurePolicy: "degrade", Algorithm: "path",
	}))

	run, err := j.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "INIT", run.State)
	assert.True(t, run.Started.Equal(started))
	assert.True(t, run.Finished.IsZero())

	tiles := []models.TileOutcome{
		{Index: 0, Core: extent(0, 33, 0, 33), Extent: extent(0, 41, 0, 41), Offset: 2, Samples: 1681,
			Status: models.TileUnwrapped, Duration: 3 * time.Millisecond},
		{Index: 1, Core: extent(0, 33, 33, 67), Extent: extent(0, 41, 25, 75), Offset: 0,
			Status: models.TileDegraded, Err: "unwrap (stub): boom", Duration: time.Millisecond},
	}
	for _, tile := range tiles {
		require.NoError(t, j.RecordTile(id, tile))
	}
	// Recording a tile again replaces it.
	tiles[0].Offset = 3
	require.NoError(t, j.RecordTile(id, tiles[0]))

	got, err := j.Tiles(id)
	require.NoError(t, err)
	if diff := cmp.Diff(tiles, got); diff != "" {
		t.Errorf("tiles mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, j.FinishRun(id, "DONE", ""))
	run, err = j.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "DONE", run.State)
	assert.Empty(t, run.Err)
	assert.False(t, run.Finished.IsZero())
}

func TestFinishUnknownRun(t *testing.T) {
	j := openTemp(t)
	assert.Error(t, j.FinishRun("missing", "FAILED", "boom"))
	_, err := j.GetRun("missing")
	assert.Error(t, err)
}

func TestConcurrentRecordTile(t *testing.T) {
	j := openTemp(t)
	id := uuid.New().String()
	require.NoError(t, j.StartRun(Run{ID: id, Started: time.Now(), Upsample: "nearest",
		Statistic: "mode", FailurePolicy: "abort", Algorithm: "quality"}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, j.RecordTile(id, models.TileOutcome{Index: i, Status: models.TileUnwrapped}))
		}(i)
	}
	wg.Wait()

	got, err := j.Tiles(id)
	require.NoError(t, err)
	require.Len(t, got, 16)
	for i, tile := range got {
		assert.Equal(t, i, tile.Index)
	}
}
