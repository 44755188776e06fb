package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/config"
	"github.com/zalahq/leadscout/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&stubUsage{}, nil, nil)
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, QuotaWarnFraction: 0.8}
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&stubUsage{}, nil, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_Check(t *testing.T) {
	usage := &stubUsage{rows: []model.ProviderUsage{{Provider: "rapidapi", Period: "2026-10", Count: 95}}}
	cfg := config.MonitoringConfig{QuotaWarnFraction: 0.8}
	checker := NewChecker(NewCollector(usage, nil, map[string]int{"rapidapi": 95}), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background(), zap.NewNop())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQuotaExhausted, alerts[0].Type)
}

func TestChecker_CheckCollectError(t *testing.T) {
	usage := &stubUsage{err: errors.New("redis down")}
	cfg := config.MonitoringConfig{}
	checker := NewChecker(NewCollector(usage, nil, nil), NewAlerter(cfg), cfg)

	assert.Nil(t, checker.Check(context.Background(), zap.NewNop()))
}
