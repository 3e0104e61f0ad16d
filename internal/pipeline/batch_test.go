package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

func TestBatchCalculate_FailureDoesNotStopSiblings(t *testing.T) {
	st := newFakeStore()
	st.seed("47900")
	st.seed("12580")
	// 31080 has no tracts or sales.

	res, err := New(st, testOptions(), nil).BatchCalculate(context.Background(), []string{"47900", "31080", "12580"})
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Cancelled)

	assert.Equal(t, "47900", res.Items[0].CBSAID)
	assert.Equal(t, ItemCompleted, res.Items[0].Status)
	require.NotNil(t, res.Items[0].Series)

	assert.Equal(t, "31080", res.Items[1].CBSAID)
	assert.Equal(t, ItemFailed, res.Items[1].Status)
	assert.Equal(t, calcerr.KindInsufficientData, res.Items[1].ErrorKind)
	assert.NotEmpty(t, res.Items[1].Error)
	assert.Nil(t, res.Items[1].Series)

	assert.Equal(t, ItemCompleted, res.Items[2].Status)
	assert.Len(t, st.series, 2)
}

func TestBatchCalculate_Cancelled(t *testing.T) {
	st := newFakeStore()
	st.seed("47900")
	st.seed("12580")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(st, testOptions(), nil).BatchCalculate(ctx, []string{"47900", "12580"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cancelled)
	for _, it := range res.Items {
		assert.Equal(t, ItemCancelled, it.Status)
		assert.Equal(t, calcerr.KindCancelled, it.ErrorKind)
	}
	assert.Empty(t, st.series)
}

func TestBatchCalculate_Validation(t *testing.T) {
	p := New(newFakeStore(), testOptions(), nil)

	_, err := p.BatchCalculate(context.Background(), nil)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = p.BatchCalculate(context.Background(), []string{"47900", "47900"})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = p.BatchCalculate(context.Background(), []string{"47900", ""})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	ids := make([]string, MaxBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("%05d", i)
	}
	_, err = p.BatchCalculate(context.Background(), ids)
	assert.True(t, calcerr.Is(err, calcerr.KindCapacity))
}

func TestBatchCalculate_ConfiguredCap(t *testing.T) {
	opts := testOptions()
	opts.MaxBatch = 2
	p := New(newFakeStore(), opts, nil)

	_, err := p.BatchCalculate(context.Background(), []string{"47900", "12580", "31080"})
	assert.True(t, calcerr.Is(err, calcerr.KindCapacity))
}
