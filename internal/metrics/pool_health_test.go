package metrics

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPoolHealthStaysSilentBelowWarnThreshold(t *testing.T) {
	log, hook := test.NewNullLogger()
	LogPoolHealth(log, 50, 100)
	assert.Empty(t, hook.Entries)
}

func TestLogPoolHealthWarnsAtThreshold(t *testing.T) {
	log, hook := test.NewNullLogger()
	LogPoolHealth(log, 80, 100)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLogPoolHealthEscalatesToErrorAtCritical(t *testing.T) {
	log, hook := test.NewNullLogger()
	LogPoolHealth(log, 96, 100)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
