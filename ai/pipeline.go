package ai

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/types"
)

// SourceAuto requests source language detection before translating.
const SourceAuto = "auto"

// TranslationCache is the durable (text, source, target) -> translation
// store, usually backed by the persistence layer.
type TranslationCache interface {
	GetCachedTranslation(text, source, target string) (string, bool, error)
	CacheTranslation(text, source, target, translated string) error
}

type cacheKey struct {
	Text   string
	Source string
	Target string
}

// Pipeline enriches messages with detection, moderation and translations.
// All operations fail soft: a provider failure yields the configured default
// language, an unflagged moderation result or the untranslated text.
type Pipeline struct {
	provider        Provider // nil when no provider is configured
	cache           TranslationCache
	arc             *lru.ARCCache // in-process cache in front of the durable one
	threshold       float64
	defaultLanguage string
}

func NewPipeline(provider Provider, cache TranslationCache, cfg config.AIConfig) *Pipeline {
	p := &Pipeline{
		provider:        provider,
		cache:           cache,
		threshold:       cfg.ToxicityThreshold,
		defaultLanguage: cfg.DefaultLanguage,
	}
	if p.defaultLanguage == "" {
		p.defaultLanguage = "en"
	}
	if cfg.CacheSize > 0 {
		if c, err := lru.NewARC(cfg.CacheSize); err == nil {
			p.arc = c
		} else {
			globals.AppLogger.Error("could not create lru cache", "error", err)
		}
	}
	return p
}

// DetectLanguage returns the ISO 639-1 code of the text, or the default
// language when no provider is configured or detection fails.
func (p *Pipeline) DetectLanguage(ctx context.Context, text string) string {
	if p.provider == nil {
		return p.defaultLanguage
	}
	detected, err := p.provider.Detect(ctx, text)
	if err != nil {
		globals.AppLogger.Error("language detection failed", "error", err)
		return p.defaultLanguage
	}
	detected = strings.ToLower(strings.TrimSpace(detected))
	if len(detected) > 2 {
		detected = detected[0:2]
	}
	if len(detected) < 2 {
		return p.defaultLanguage
	}
	return detected
}

// ModerateContent scores the text for toxicity. The result is flagged when
// the provider flags it or any category score reaches the threshold.
func (p *Pipeline) ModerateContent(ctx context.Context, text string) types.ModerationResult {
	safe := types.ModerationResult{
		Categories:        map[string]float64{},
		FlaggedCategories: []string{},
	}
	if p.provider == nil {
		return safe
	}
	verdict, err := p.provider.Moderate(ctx, text)
	if err != nil {
		globals.AppLogger.Error("content moderation failed", "error", err)
		return safe
	}
	maxScore := 0.0
	flaggedCategories := make([]string, 0)
	for category, score := range verdict.CategoryScores {
		if score > maxScore {
			maxScore = score
		}
		if score >= p.threshold {
			flaggedCategories = append(flaggedCategories, category)
		}
	}
	sort.Strings(flaggedCategories)
	return types.ModerationResult{
		IsFlagged:         verdict.Flagged || maxScore >= p.threshold,
		ToxicityScore:     maxScore,
		Categories:        verdict.CategoryScores,
		FlaggedCategories: flaggedCategories,
	}
}

// TranslateText translates text into the target language, consulting the
// cache first. Pass SourceAuto to have the source language detected; the
// cache is checked again after detection so a hit on a known source never
// costs a detection call. On any failure the original text is returned.
func (p *Pipeline) TranslateText(ctx context.Context, text, target, source string) string {
	if p.provider == nil {
		return text
	}
	if source != SourceAuto {
		if translated, ok := p.lookupCache(text, source, target); ok {
			return translated
		}
	} else {
		source = p.DetectLanguage(ctx, text)
	}
	if translated, ok := p.lookupCache(text, source, target); ok {
		return translated
	}
	translated, err := p.provider.Translate(ctx, text, source, target)
	if err != nil {
		globals.AppLogger.Error("translation failed", "error", err, "target", target)
		return text
	}
	p.storeCache(text, source, target, translated)
	return translated
}

// TranslateForUsers translates the text into every requested target language
// concurrently. The source language maps to the original text without a
// provider call, and a failing branch degrades to the original text without
// affecting the others. The result holds exactly one entry per target.
func (p *Pipeline) TranslateForUsers(ctx context.Context, text, source string, targets []string) map[string]string {
	translations := make(map[string]string, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, target := range targets {
		if target == source {
			translations[target] = text
			continue
		}
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			translated := p.TranslateText(ctx, text, target, source)
			mu.Lock()
			translations[target] = translated
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	return translations
}

func (p *Pipeline) lookupCache(text, source, target string) (string, bool) {
	key := cacheKey{Text: text, Source: source, Target: target}
	if p.arc != nil {
		if translated, ok := p.arc.Get(key); ok {
			return translated.(string), true
		}
	}
	if p.cache == nil {
		return "", false
	}
	translated, ok, err := p.cache.GetCachedTranslation(text, source, target)
	if err != nil {
		globals.AppLogger.Warn("could not read translation cache", "error", err)
		return "", false
	}
	if ok && p.arc != nil {
		p.arc.Add(key, translated)
	}
	return translated, ok
}

func (p *Pipeline) storeCache(text, source, target, translated string) {
	if p.arc != nil {
		p.arc.Add(cacheKey{Text: text, Source: source, Target: target}, translated)
	}
	if p.cache == nil {
		return
	}
	if err := p.cache.CacheTranslation(text, source, target, translated); err != nil {
		globals.AppLogger.Warn("could not write translation cache", "error", err)
	}
}
