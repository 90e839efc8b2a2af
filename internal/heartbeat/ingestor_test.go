package heartbeat

import (
	"testing"
	"time"

	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestBucketOf10sGroupsWithinWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := store.BucketOf10s(base)
	b := store.BucketOf10s(base.Add(9 * time.Second))
	c := store.BucketOf10s(base.Add(11 * time.Second))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
