package perfdiff

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareSkipsLegacyWhenDisabled(t *testing.T) {
	legacyCalled := false
	legacyFn := func() (int, error) { legacyCalled = true; return 1, nil }
	fastFn := func() (int, error) { return 2, nil }

	result, err := Compare[int](logrus.New(), false, "q", legacyFn, fastFn)
	require.NoError(t, err)
	assert.Equal(t, 2, result)
	assert.False(t, legacyCalled, "legacy path must not run when perf-diff is disabled")
}

func TestCompareReturnsFastResultWhenEnabled(t *testing.T) {
	legacyFn := func() (int, error) { return 1, nil }
	fastFn := func() (int, error) { return 2, nil }

	result, err := Compare[int](logrus.New(), true, "q", legacyFn, fastFn)
	require.NoError(t, err)
	assert.Equal(t, 2, result)
}

func TestCompareFallsBackToLegacyWhenFastFails(t *testing.T) {
	legacyFn := func() (int, error) { return 1, nil }
	fastErr := errors.New("fast query failed")
	fastFn := func() (int, error) { return 0, fastErr }

	result, err := Compare[int](logrus.New(), true, "q", legacyFn, fastFn)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestCompareLogsComparisonWhenEnabled(t *testing.T) {
	log, hook := test.NewNullLogger()
	legacyFn := func() (int, error) { return 1, nil }
	fastFn := func() (int, error) { return 2, nil }

	_, err := Compare[int](log, true, "device_status", legacyFn, fastFn)
	require.NoError(t, err)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "perf_diff.query_comparison", hook.LastEntry().Message)
	assert.Equal(t, "device_status", hook.LastEntry().Data["query_name"])
}
