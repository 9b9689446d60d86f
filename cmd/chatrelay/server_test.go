package main

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/cache"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStatsServer(t *testing.T, cm *cache.Manager) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return &Server{
		cfg:       &config.Config{},
		logger:    zap.NewNop(),
		collector: metrics.NewCollectorWithRegistry("test", reg, zap.NewNop()),
		cache:     cm,
	}, reg
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestServer_CollectPoolStatsReportsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cm, err := cache.NewManager(context.Background(), cache.Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
		KeyPrefix:  "test:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	s, reg := newStatsServer(t, cm)
	s.collectPoolStats(context.Background())

	assert.GreaterOrEqual(t, gaugeValue(t, reg, "test_redis_connected_clients"), float64(1))
}

func TestServer_CollectPoolStatsClosedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cm, err := cache.NewManager(context.Background(), cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, cm.Close())

	s, reg := newStatsServer(t, cm)
	s.collectPoolStats(context.Background())

	assert.Equal(t, float64(0), gaugeValue(t, reg, "test_redis_connected_clients"))
}
