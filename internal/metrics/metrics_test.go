package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordInferenceAccumulates(t *testing.T) {
	before := TotalTokens()
	RecordInference(5, 50*time.Millisecond, "length")
	RecordInference(10, 100*time.Millisecond, "eos")

	assert.Equal(t, before+15, TotalTokens())
	assert.GreaterOrEqual(t, testutil.ToFloat64(RequestsTotal.WithLabelValues("eos")), 1.0)
}

func TestRecordStep(t *testing.T) {
	drafted0, accepted0 := AcceptanceTotals()
	steps0 := testutil.ToFloat64(SpecStepsTotal)

	RecordStep(4, 3)
	RecordStep(4, 0)
	RecordStep(0, 0)

	drafted, accepted := AcceptanceTotals()
	assert.Equal(t, drafted0+8, drafted)
	assert.Equal(t, accepted0+3, accepted)
	assert.Equal(t, steps0+3, testutil.ToFloat64(SpecStepsTotal))
}

func TestRecordFallbackAndFailures(t *testing.T) {
	before := testutil.ToFloat64(SpecFallbackSteps.WithLabelValues("proposer"))
	RecordFallback("proposer")
	assert.Equal(t, before+1, testutil.ToFloat64(SpecFallbackSteps.WithLabelValues("proposer")))

	RecordComponentFailure("verifier")
	assert.GreaterOrEqual(t, testutil.ToFloat64(SpecComponentFailures.WithLabelValues("verifier")), 1.0)
}

func TestRecordKVCacheBlocks(t *testing.T) {
	RecordKVCacheBlocks(64, 60, 2)

	assert.Equal(t, 64.0, testutil.ToFloat64(KVCacheBlocksTotal))
	assert.Equal(t, 60.0, testutil.ToFloat64(KVCacheBlocksFree))
	assert.Equal(t, 2.0, testutil.ToFloat64(KVCacheBlocksCached))
}

func TestRecordKVCacheReuseIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(KVCacheReusedTokens)
	RecordKVCacheReuse(0)
	RecordKVCacheReuse(32)
	assert.Equal(t, before+32, testutil.ToFloat64(KVCacheReusedTokens))
}

func TestRecordExportOutcome(t *testing.T) {
	okBefore := testutil.ToFloat64(ExportedStepRecords.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(ExportedStepRecords.WithLabelValues("error"))

	RecordExport(7, nil)
	RecordExport(3, errors.New("unavailable"))

	assert.Equal(t, okBefore+7, testutil.ToFloat64(ExportedStepRecords.WithLabelValues("ok")))
	assert.Equal(t, errBefore+3, testutil.ToFloat64(ExportedStepRecords.WithLabelValues("error")))
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	RecordAcceptanceRate(0, 0)
	RecordAcceptanceRate(8, 3)
	RecordPhase("verify", 2*time.Millisecond)
	RecordValidationError("resolve", "invariant")
	RecordKVCacheEviction()
	RecordKVCacheAllocFailure()
}
