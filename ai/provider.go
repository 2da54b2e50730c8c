// Package ai drives language detection, content moderation and translation
// through an external provider, converting every provider failure into a
// safe default so that AI trouble never blocks message delivery.
package ai

import "context"

// Moderation is the raw moderation verdict of the provider.
type Moderation struct {
	Flagged        bool
	CategoryScores map[string]float64 // score per category, in [0,1]
}

// Provider is the external language detection / translation / moderation
// capability. Implementations are expected to return errors freely; the
// pipeline is the single place where failures become safe defaults.
type Provider interface {
	// Detect returns a best-effort ISO 639-1 language code for the text.
	Detect(ctx context.Context, text string) (string, error)
	// Moderate scores the text for toxic content.
	Moderate(ctx context.Context, text string) (*Moderation, error)
	// Translate translates text from source to target, content only.
	Translate(ctx context.Context, text, source, target string) (string, error)
}
