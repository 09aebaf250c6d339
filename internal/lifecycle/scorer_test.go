package lifecycle

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/notification"
	"github.com/t77yq/biomed-maint/internal/storage"
	"github.com/t77yq/biomed-maint/internal/testutil"
)

var scenarioConfig = Config{
	Thresholds: model.LifecycleThresholds{
		MinAgeYears:         5,
		MaxServiceCostRatio: 0.5,
		MinDowntimeHours:    100,
		MinUtilizationPct:   20,
	},
	Weights:            model.EqualWeights(),
	CompositeThreshold: 1.0,
	RecipientRole:      "biomed_manager",
}

var evaluatedAt = testutil.Date(2025, 6, 1)

// agingAsset is six years old with a 0.6 service-cost ratio, 150h downtime
// and 10% utilization.
func agingAsset(id string) *model.Asset {
	return &model.Asset{
		ID:              id,
		Name:            "Infusion Pump " + id,
		InstallDate:     evaluatedAt.Add(-time.Duration(6*365.25*24) * time.Hour),
		ReplacementCost: 10000,
		ServiceCost:     6000,
		DowntimeHours:   150,
		UtilizationPct:  10,
	}
}

func TestScore_Scenario(t *testing.T) {
	asset := agingAsset("pump-1")
	before := *asset

	score := Score(asset, evaluatedAt, scenarioConfig)

	assert.InDelta(t, 1.2, score.AgeScore, 1e-6)
	assert.InDelta(t, 1.2, score.ServiceCostScore, 1e-9)
	assert.InDelta(t, 1.5, score.DowntimeScore, 1e-9)
	assert.InDelta(t, 2.0, score.UtilizationScore, 1e-9)
	assert.InDelta(t, 1.475, score.Composite, 1e-6)
	assert.True(t, score.Recommend)
	assert.Equal(t, []string{MetricAge, MetricServiceCost, MetricDowntime, MetricUtilization}, score.ExceededMetrics)
	assert.Equal(t, before, *asset, "scoring must not mutate the asset")
}

func TestScore_EdgeCases(t *testing.T) {
	tests := []struct {
		name          string
		asset         *model.Asset
		cfg           func(Config) Config
		wantComposite float64
		wantRecommend bool
	}{
		{
			name:          "new healthy asset",
			asset:         &model.Asset{ID: "new", InstallDate: evaluatedAt, ReplacementCost: 1000, ServiceCost: 0, UtilizationPct: 80},
			wantComposite: 0.0625,
		},
		{
			name:          "idle asset caps utilization",
			asset:         &model.Asset{ID: "idle", InstallDate: evaluatedAt, ReplacementCost: 0, UtilizationPct: 0},
			wantComposite: maxInverseUtilization / 4,
			wantRecommend: true,
		},
		{
			name:  "weights favor downtime",
			asset: &model.Asset{ID: "down", InstallDate: evaluatedAt, DowntimeHours: 300, UtilizationPct: 100},
			cfg: func(c Config) Config {
				c.Weights = model.LifecycleWeights{Downtime: 3, Utilization: 1}
				return c
			},
			wantComposite: (3*3.0 + 0.2) / 4,
			wantRecommend: true,
		},
		{
			name:  "disabled metrics drop out",
			asset: &model.Asset{ID: "only-age", InstallDate: evaluatedAt.AddDate(-10, 0, 0)},
			cfg: func(c Config) Config {
				c.Thresholds = model.LifecycleThresholds{MinAgeYears: 5}
				return c
			},
			wantComposite: 2.0,
			wantRecommend: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scenarioConfig
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			score := Score(tt.asset, evaluatedAt, cfg)
			assert.InDelta(t, tt.wantComposite, score.Composite, 1e-2)
			assert.Equal(t, tt.wantRecommend, score.Recommend)
		})
	}
}

func TestScore_MonotonicInDowntime(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 300; i++ {
		asset := &model.Asset{
			ID:              "a",
			InstallDate:     evaluatedAt.AddDate(-rng.Intn(15), 0, 0),
			ReplacementCost: 1000 + rng.Float64()*9000,
			ServiceCost:     rng.Float64() * 5000,
			DowntimeHours:   rng.Float64() * 400,
			UtilizationPct:  rng.Float64() * 100,
		}
		base := Score(asset, evaluatedAt, scenarioConfig)

		worse := *asset
		worse.DowntimeHours += 1 + rng.Float64()*100
		assert.Greater(t, Score(&worse, evaluatedAt, scenarioConfig).Composite, base.Composite)
	}
}

func TestEvaluate_OneNotificationPerAsset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	testutil.SeedUsers(t, store,
		&model.User{ID: "m-1", Roles: []string{"biomed_manager"}},
		&model.User{ID: "m-2", Roles: []string{"biomed_manager"}},
		&model.User{ID: "tech", Roles: []string{"engineer"}},
	)
	testutil.SeedAsset(t, store, agingAsset("pump-1"))
	testutil.SeedAsset(t, store, agingAsset("pump-2"))
	testutil.SeedAsset(t, store, &model.Asset{ID: "monitor-1", Name: "Monitor", InstallDate: evaluatedAt.AddDate(-1, 0, 0),
		ReplacementCost: 8000, ServiceCost: 100, DowntimeHours: 2, UtilizationPct: 90})

	clock := testutil.NewClock(evaluatedAt)
	logger := zaptest.NewLogger(t)
	sink := notification.NewSink(logger, store, notification.WithClock(clock.Now))
	scorer := NewScorer(logger, store, sink, scenarioConfig, WithClock(clock.Now))

	result, err := scorer.Evaluate(ctx, model.AssetFilter{})
	require.NoError(t, err)
	require.Len(t, result.Scores, 3)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome())
	// Two flagged assets, two managers each, one notification per pair.
	assert.Equal(t, 4, result.Notifications)

	for _, user := range []string{"m-1", "m-2"} {
		page, err := sink.ListForUser(ctx, user, 1, 10, false)
		require.NoError(t, err)
		require.Equal(t, 2, page.Total, user)
		for _, n := range page.Items {
			assert.Equal(t, model.NotificationEndOfLife, n.Type)
			assert.Equal(t, EntityType, n.EntityType)
			assert.Contains(t, n.Message, MetricDowntime)
		}
	}
	unread, err := sink.UnreadCount(ctx, "tech")
	require.NoError(t, err)
	assert.Zero(t, unread)

	again, err := scorer.Evaluate(ctx, model.AssetFilter{})
	require.NoError(t, err)
	assert.Zero(t, again.Notifications)

	original, err := store.GetAsset(ctx, "pump-1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, original.DowntimeHours)
}

func TestEvaluate_Filter(t *testing.T) {
	store := storage.NewMemoryStore()
	testutil.SeedAsset(t, store, agingAsset("pump-1"))
	testutil.SeedAsset(t, store, agingAsset("pump-2"))

	scorer := NewScorer(zaptest.NewLogger(t), store, notification.NewSink(zaptest.NewLogger(t), store),
		scenarioConfig, WithClock(func() time.Time { return evaluatedAt }))

	result, err := scorer.Evaluate(context.Background(), model.AssetFilter{IDs: []string{"pump-2"}})
	require.NoError(t, err)
	require.Len(t, result.Scores, 1)
	assert.Equal(t, "pump-2", result.Scores[0].AssetID)
	assert.Zero(t, result.Notifications, "no one holds the recipient role")
}
