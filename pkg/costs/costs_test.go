package costs

import (
	"testing"

	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func TestSummarize_MixedPricing(t *testing.T) {
	results := []storage.Result{
		{ModelID: "model-a", QuestionID: "q1", Cost: fp(0.01)},
		{ModelID: "model-b", QuestionID: "q1"},
		{ModelID: "model-a", QuestionID: "q2", Cost: fp(0.02)},
	}

	summary := Summarize(results)

	require.NotNil(t, summary.Total)
	assert.InDelta(t, 0.03, *summary.Total, 1e-9)
	assert.Equal(t, []string{"model-b"}, summary.MissingPricing)

	require.Len(t, summary.PerModel, 2)

	a := summary.PerModel[0]
	assert.Equal(t, "model-a", a.ModelID)
	assert.Equal(t, 2, a.Calls)
	assert.Equal(t, 2, a.Priced)
	require.NotNil(t, a.Cost)
	assert.InDelta(t, 0.03, *a.Cost, 1e-9)

	b := summary.PerModel[1]
	assert.Equal(t, "model-b", b.ModelID)
	assert.Equal(t, 1, b.Calls)
	assert.Equal(t, 0, b.Priced)
	assert.Nil(t, b.Cost)
}

func TestSummarize_NothingPriced(t *testing.T) {
	results := []storage.Result{
		{ModelID: "model-a", QuestionID: "q1"},
		{ModelID: "model-a", QuestionID: "q2"},
	}

	summary := Summarize(results)

	// Unknown cost is not zero cost.
	assert.Nil(t, summary.Total)
	assert.Equal(t, []string{"model-a"}, summary.MissingPricing)
}

func TestSummarize_ZeroIsPriced(t *testing.T) {
	results := []storage.Result{
		{ModelID: "model-a", QuestionID: "q1", Cost: fp(0)},
	}

	summary := Summarize(results)

	require.NotNil(t, summary.Total)
	assert.Zero(t, *summary.Total)
	assert.Empty(t, summary.MissingPricing)
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)

	assert.Nil(t, summary.Total)
	assert.Empty(t, summary.PerModel)
	assert.Empty(t, summary.MissingPricing)
}
