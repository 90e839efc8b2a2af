package cache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/stretchr/testify/assert"
)

func TestKeyIsOrderIndependentOnQueryParams(t *testing.T) {
	a := Key("/v1/devices", "status=online&limit=10")
	b := Key("/v1/devices", "limit=10&status=online")
	assert.Equal(t, a, b)
}

func TestKeyDiffersByPath(t *testing.T) {
	a := Key("/v1/devices", "")
	b := Key("/v1/alerts", "")
	assert.NotEqual(t, a, b)
}

func TestInvalidatePrefixRemovesMatchingAndLegacyEntries(t *testing.T) {
	rc := New(time.Minute)
	defer rc.Stop()

	rc.Set("k1", "/v1/devices/1", []byte("a"), time.Minute)
	rc.Set("k2", "/v1/alerts", []byte("b"), time.Minute)
	rc.cache.Set("k3", entry{value: []byte("legacy"), hasPath: false}, ttlcache.DefaultTTL)

	rc.InvalidatePrefix("/v1/devices")

	_, ok1 := rc.Get("k1")
	_, ok2 := rc.Get("k2")
	_, ok3 := rc.Get("k3")

	assert.False(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}

func TestGetOrLoadCachesAfterFirstMiss(t *testing.T) {
	rc := New(time.Minute)
	defer rc.Stop()

	var loads int32
	load := func() ([]byte, error) {
		atomic.AddInt32(&loads, 1)
		return []byte("body"), nil
	}

	body1, hit1, err := rc.GetOrLoad("k", "/v1/devices/1", time.Minute, load)
	assert.NoError(t, err)
	assert.False(t, hit1)
	assert.Equal(t, []byte("body"), body1)

	body2, hit2, err := rc.GetOrLoad("k", "/v1/devices/1", time.Minute, load)
	assert.NoError(t, err)
	assert.True(t, hit2)
	assert.Equal(t, []byte("body"), body2)

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
}
