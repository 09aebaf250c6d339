// Package lifecycle scores assets for replacement and raises end-of-life
// notifications for those past the composite threshold.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/storage"
)

const (
	MetricAge         = "age"
	MetricServiceCost = "service_cost_ratio"
	MetricDowntime    = "downtime"
	MetricUtilization = "utilization"

	// EntityType links end-of-life notifications to assets
	EntityType = "asset"

	// maxInverseUtilization caps the utilization score of idle assets
	maxInverseUtilization = 5.0
)

// Config holds scoring parameters
type Config struct {
	Thresholds         model.LifecycleThresholds `mapstructure:"thresholds"`
	Weights            model.LifecycleWeights    `mapstructure:"weights"`
	CompositeThreshold float64                   `mapstructure:"composite_threshold"`
	RecipientRole      string                    `mapstructure:"recipient_role"`
}

// DefaultConfig returns the stock thresholds with equal weights
func DefaultConfig() Config {
	return Config{
		Thresholds: model.LifecycleThresholds{
			MinAgeYears:         7,
			MaxServiceCostRatio: 0.5,
			MinDowntimeHours:    100,
			MinUtilizationPct:   20,
		},
		Weights:            model.EqualWeights(),
		CompositeThreshold: 1.0,
		RecipientRole:      "biomed_manager",
	}
}

// Score computes the replacement-urgency score of an asset at the given
// instant. Each metric is normalized so 1.0 sits on its reference point; the
// composite is their weighted mean. A metric with no usable reference point
// scores 0 and drops out of the mean. The asset is not modified.
func Score(asset *model.Asset, at time.Time, cfg Config) *model.RecommendationScore {
	th := cfg.Thresholds
	score := &model.RecommendationScore{AssetID: asset.ID}

	type metric struct {
		name   string
		value  float64
		weight float64
		usable bool
	}

	ratio := 0.0
	if asset.ReplacementCost > 0 {
		ratio = asset.ServiceCost / asset.ReplacementCost
	}

	metrics := []metric{
		{MetricAge, normalize(asset.AgeYears(at), th.MinAgeYears), cfg.Weights.Age, th.MinAgeYears > 0},
		{MetricServiceCost, normalize(ratio, th.MaxServiceCostRatio), cfg.Weights.ServiceCost, th.MaxServiceCostRatio > 0},
		{MetricDowntime, normalize(asset.DowntimeHours, th.MinDowntimeHours), cfg.Weights.Downtime, th.MinDowntimeHours > 0},
		{MetricUtilization, inverseUtilization(asset.UtilizationPct, th.MinUtilizationPct), cfg.Weights.Utilization, th.MinUtilizationPct > 0},
	}

	score.AgeScore = metrics[0].value
	score.ServiceCostScore = metrics[1].value
	score.DowntimeScore = metrics[2].value
	score.UtilizationScore = metrics[3].value

	var sum, weights float64
	for _, m := range metrics {
		if !m.usable || m.weight <= 0 {
			continue
		}
		sum += m.value * m.weight
		weights += m.weight
		if m.value >= 1 {
			score.ExceededMetrics = append(score.ExceededMetrics, m.name)
		}
	}
	if weights > 0 {
		score.Composite = sum / weights
	}
	score.Recommend = score.Composite > cfg.CompositeThreshold
	return score
}

func normalize(value, reference float64) float64 {
	if reference <= 0 || value <= 0 {
		return 0
	}
	return value / reference
}

func inverseUtilization(pct, minPct float64) float64 {
	if minPct <= 0 {
		return 0
	}
	if pct <= 0 {
		return maxInverseUtilization
	}
	return math.Min(minPct/pct, maxInverseUtilization)
}

// Notifier records user notifications. *notification.Sink implements it.
type Notifier interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
	Exists(ctx context.Context, q model.NotificationQuery) (bool, error)
}

// Scorer runs lifecycle scoring over the asset directory
type Scorer struct {
	logger   *zap.Logger
	store    storage.Store
	notifier Notifier
	config   Config
	now      func() time.Time
}

// Option configures a Scorer
type Option func(*Scorer)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// NewScorer creates a lifecycle scorer
func NewScorer(logger *zap.Logger, store storage.Store, notifier Notifier, config Config, opts ...Option) *Scorer {
	s := &Scorer{
		logger:   logger.Named("lifecycle"),
		store:    store,
		notifier: notifier,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score scores one asset with the scorer's configuration
func (s *Scorer) Score(asset *model.Asset) *model.RecommendationScore {
	return Score(asset, s.now().UTC(), s.config)
}

// Evaluate scores every asset matching filter and sends one end-of-life
// notification per recipient for each recommended asset not already
// notified.
func (s *Scorer) Evaluate(ctx context.Context, filter model.AssetFilter) (*model.LifecycleResult, error) {
	result := &model.LifecycleResult{Scores: []*model.RecommendationScore{}}

	assets, err := s.store.ListAssets(ctx, filter)
	if err != nil {
		return result, fmt.Errorf("failed to list assets: %w", err)
	}

	var recipients []*model.User
	if s.config.RecipientRole != "" {
		recipients, err = s.store.UsersWithRole(ctx, s.config.RecipientRole)
		if err != nil {
			return result, fmt.Errorf("failed to resolve recipients: %w", err)
		}
	}

	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		score := s.Score(asset)
		result.Scores = append(result.Scores, score)
		if !score.Recommend {
			continue
		}

		sent, err := s.notify(ctx, asset, score, recipients)
		result.Notifications += sent
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) {
				return result, err
			}
			result.Failures = append(result.Failures, model.NewItemFailure(asset.ID, err))
		}
	}

	recommended := 0
	for _, sc := range result.Scores {
		if sc.Recommend {
			recommended++
		}
	}
	s.logger.Info("Lifecycle evaluation finished",
		zap.Int("assets", len(result.Scores)),
		zap.Int("recommended", recommended),
		zap.Int("notifications", result.Notifications))
	return result, nil
}

func (s *Scorer) notify(ctx context.Context, asset *model.Asset, score *model.RecommendationScore, recipients []*model.User) (int, error) {
	if len(recipients) == 0 {
		s.logger.Warn("No recipients for end-of-life notification",
			zap.String("asset_id", asset.ID),
			zap.String("role", s.config.RecipientRole))
		return 0, nil
	}

	title := fmt.Sprintf("Replacement recommended: %s", asset.Name)
	message := fmt.Sprintf("%s (%s) scored %.2f against a replacement threshold of %.2f. Exceeded: %s.",
		asset.Name, asset.ID, score.Composite, s.config.CompositeThreshold, exceededText(score.ExceededMetrics))

	sent := 0
	for _, u := range recipients {
		exists, err := s.notifier.Exists(ctx, model.NotificationQuery{
			UserID:     u.ID,
			Type:       model.NotificationEndOfLife,
			EntityType: EntityType,
			EntityID:   asset.ID,
		})
		if err != nil {
			return sent, err
		}
		if exists {
			continue
		}

		if _, err := s.notifier.Create(ctx, &model.Notification{
			UserID:     u.ID,
			Type:       model.NotificationEndOfLife,
			Title:      title,
			Message:    message,
			EntityType: EntityType,
			EntityID:   asset.ID,
		}); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func exceededText(metrics []string) string {
	if len(metrics) == 0 {
		return "none individually"
	}
	return strings.Join(metrics, ", ")
}
