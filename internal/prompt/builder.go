// Package prompt turns a dream analysis into a generation prompt and the
// inputs of the fallback card.
package prompt

import (
	"fmt"
	"strings"

	"github.com/oneiroi/api/internal/fallback"
	"github.com/oneiroi/api/internal/models"
)

const (
	defaultArchetype = "mysterious figure"
	maxSymbols       = 3
	maxEmotions      = 2
	maxAnalysisWords = 20
)

// BuildImagePrompt describes a tarot card illustration for the analysis in the given theme
func BuildImagePrompt(a models.DreamAnalysis, theme string) string {
	archetype := defaultArchetype
	if first := firstNonEmpty(a.Archetypes); first != "" {
		archetype = first
	}
	symbols := strings.Join(head(a.Symbols, maxSymbols), ", ")
	emotions := strings.Join(head(a.Emotions, maxEmotions), " and ")
	excerpt := strings.Join(head(strings.Fields(a.Analysis), maxAnalysisWords), " ")

	var b strings.Builder
	fmt.Fprintf(&b, "A mystical tarot card illustration featuring %s", strings.ToLower(archetype))
	if symbols != "" {
		fmt.Fprintf(&b, ", incorporating %s", symbols)
	}
	b.WriteString(".")
	if emotions != "" {
		fmt.Fprintf(&b, " The scene evokes feelings of %s.", emotions)
	}
	if excerpt != "" {
		fmt.Fprintf(&b, " %s.", strings.TrimRight(excerpt, ".!?"))
	}
	fmt.Fprintf(&b, " The artwork should be in a %s style with intricate details, symbolic elements,"+
		" and a portrait orientation suitable for a tarot card.", strings.ToLower(fallback.ThemeByName(theme).Name))
	b.WriteString(" The image should be artistic and ethereal, with rich colors and mystical atmosphere.")
	return b.String()
}

// Keywords returns the symbols shown on the fallback card
func Keywords(a models.DreamAnalysis) []string {
	return head(a.Symbols, maxSymbols)
}

// Card derives the fallback card from the analysis. Explicit title and
// subtitle win over the suggested tarot naming.
func Card(a models.DreamAnalysis, theme, title, subtitle string) fallback.Card {
	if strings.TrimSpace(title) == "" {
		title = a.TarotCard.Title
	}
	if strings.TrimSpace(subtitle) == "" {
		subtitle = a.TarotCard.Subtitle
	}
	return fallback.Card{
		Theme:    theme,
		Title:    title,
		Subtitle: subtitle,
		Keywords: Keywords(a),
	}
}

// head returns up to n trimmed, non-empty items
func head(items []string, n int) []string {
	out := make([]string, 0, n)
	for _, it := range items {
		if len(out) == n {
			break
		}
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func firstNonEmpty(items []string) string {
	if h := head(items, 1); len(h) == 1 {
		return h[0]
	}
	return ""
}
