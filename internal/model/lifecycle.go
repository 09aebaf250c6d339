package model

// LifecycleThresholds are the reference points each lifecycle metric is
// normalized against.
type LifecycleThresholds struct {
	MinAgeYears         float64 `json:"min_age_years" mapstructure:"min_age_years"`
	MaxServiceCostRatio float64 `json:"max_service_cost_ratio" mapstructure:"max_service_cost_ratio"`
	MinDowntimeHours    float64 `json:"min_downtime_hours" mapstructure:"min_downtime_hours"`
	MinUtilizationPct   float64 `json:"min_utilization_pct" mapstructure:"min_utilization_pct"`
}

// LifecycleWeights weight each normalized metric in the composite score.
type LifecycleWeights struct {
	Age         float64 `json:"age" mapstructure:"age"`
	ServiceCost float64 `json:"service_cost" mapstructure:"service_cost"`
	Downtime    float64 `json:"downtime" mapstructure:"downtime"`
	Utilization float64 `json:"utilization" mapstructure:"utilization"`
}

// EqualWeights weights all four metrics the same.
func EqualWeights() LifecycleWeights {
	return LifecycleWeights{Age: 1, ServiceCost: 1, Downtime: 1, Utilization: 1}
}

// RecommendationScore is the replacement-urgency assessment of one asset.
type RecommendationScore struct {
	AssetID          string  `json:"asset_id"`
	AgeScore         float64 `json:"age_score"`
	ServiceCostScore float64 `json:"service_cost_score"`
	DowntimeScore    float64 `json:"downtime_score"`
	UtilizationScore float64 `json:"utilization_score"`
	Composite        float64 `json:"composite"`
	Recommend        bool    `json:"recommend_replacement"`
	// ExceededMetrics names each metric at or above its reference point.
	ExceededMetrics []string `json:"exceeded_metrics,omitempty"`
}
