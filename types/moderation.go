package types

// ModerationResult is the outcome of running a text through the content
// moderation capability. The zero value is the safe default used when the
// provider is unavailable.
type ModerationResult struct {
	IsFlagged         bool               `json:"is_flagged"`
	ToxicityScore     float64            `json:"toxicity_score"`
	Categories        map[string]float64 `json:"categories"`
	FlaggedCategories []string           `json:"flagged_categories"`
}
