// Package fallback renders the placeholder card returned when remote image
// generation fails. Rendering is a pure function of its inputs: the same card
// always produces the same bytes.
package fallback

import (
	"bytes"
	"encoding/xml"
	"strings"
	"text/template"

	"github.com/oneiroi/api/internal/models"
)

// MimeType of synthesized cards
const MimeType = "image/svg+xml"

// Defaults used when the caller leaves a field empty
const (
	DefaultTitle    = "My Dream"
	DefaultSubtitle = "A Beautiful Memory"
	maxKeywords     = 3
)

// Theme holds the palette of a card style
type Theme struct {
	Name           string
	PrimaryColor   string
	SecondaryColor string
	AccentColor    string
	FontFamily     string
}

var themes = map[string]Theme{
	"minimal": {
		Name:           "Minimal",
		PrimaryColor:   "#f5f5f4",
		SecondaryColor: "#d6d3d1",
		AccentColor:    "#292524",
		FontFamily:     "Georgia, serif",
	},
	"colorful": {
		Name:           "Colorful",
		PrimaryColor:   "#4c1d95",
		SecondaryColor: "#be185d",
		AccentColor:    "#fde68a",
		FontFamily:     "Cinzel, Georgia, serif",
	},
}

// ThemeByName looks a theme up case-insensitively, defaulting to Minimal
func ThemeByName(name string) Theme {
	if t, ok := themes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return themes["minimal"]
}

// Card is the input of the synthesizer
type Card struct {
	Theme    string
	Title    string
	Subtitle string
	Keywords []string
}

type cardView struct {
	Theme    Theme
	Title    string
	Subtitle string
	Keywords string
}

var cardTemplate = template.Must(template.New("card").Funcs(template.FuncMap{"x": escape}).Parse(cardSVG))

// Synthesize renders the card into a fallback artifact
func Synthesize(card Card) (models.Artifact, error) {
	view := cardView{
		Theme:    ThemeByName(card.Theme),
		Title:    orDefault(card.Title, DefaultTitle),
		Subtitle: orDefault(card.Subtitle, DefaultSubtitle),
		Keywords: joinKeywords(card.Keywords),
	}

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, view); err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{
		Kind:     models.ArtifactKindFallback,
		Bytes:    buf.Bytes(),
		MimeType: MimeType,
	}, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func joinKeywords(words []string) string {
	picked := make([]string, 0, maxKeywords)
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			picked = append(picked, w)
		}
		if len(picked) == maxKeywords {
			break
		}
	}
	return strings.Join(picked, " • ")
}

func escape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

const cardSVG = `<svg width="400" height="600" viewBox="0 0 400 600" xmlns="http://www.w3.org/2000/svg">
  <defs>
    <linearGradient id="bg" x1="0%" y1="0%" x2="100%" y2="100%">
      <stop offset="0%" stop-color="{{.Theme.PrimaryColor}}"/>
      <stop offset="100%" stop-color="{{.Theme.SecondaryColor}}"/>
    </linearGradient>
    <linearGradient id="panel" x1="0%" y1="0%" x2="100%" y2="100%">
      <stop offset="0%" stop-color="#000000" stop-opacity="0.3"/>
      <stop offset="100%" stop-color="#000000" stop-opacity="0.1"/>
    </linearGradient>
    <pattern id="texture" patternUnits="userSpaceOnUse" width="40" height="40">
      <rect width="40" height="40" fill="{{.Theme.AccentColor}}" opacity="0.08"/>
      <circle cx="20" cy="20" r="1" fill="{{.Theme.SecondaryColor}}" opacity="0.2"/>
    </pattern>
  </defs>
  <rect width="400" height="600" fill="url(#bg)"/>
  <rect width="400" height="600" fill="url(#texture)"/>
  <rect x="10" y="10" width="380" height="580" fill="none" stroke="{{.Theme.AccentColor}}" stroke-width="2" rx="12" opacity="0.8"/>
  <rect x="20" y="20" width="360" height="560" fill="none" stroke="{{.Theme.AccentColor}}" stroke-width="1" rx="8" opacity="0.6"/>
  <rect x="30" y="40" width="340" height="90" fill="url(#panel)" rx="8"/>
  <text x="200" y="73" font-family="{{.Theme.FontFamily}}" font-size="26" fill="{{.Theme.AccentColor}}" text-anchor="middle" font-weight="700">{{x .Title}}</text>
  <text x="200" y="103" font-family="{{.Theme.FontFamily}}" font-size="14" fill="{{.Theme.AccentColor}}" text-anchor="middle" opacity="0.9">{{x .Subtitle}}</text>
  <rect x="60" y="150" width="280" height="260" fill="url(#panel)" rx="12"/>
  <circle cx="200" cy="280" r="80" fill="none" stroke="{{.Theme.AccentColor}}" stroke-width="2" opacity="0.4"/>
  <circle cx="200" cy="280" r="60" fill="none" stroke="{{.Theme.AccentColor}}" stroke-width="1" opacity="0.6"/>
  <circle cx="200" cy="280" r="40" fill="none" stroke="{{.Theme.AccentColor}}" stroke-width="1" opacity="0.3"/>
  <text x="200" y="292" font-family="serif" font-size="48" fill="{{.Theme.AccentColor}}" text-anchor="middle" opacity="0.9">◈</text>
  <text x="200" y="338" font-family="{{.Theme.FontFamily}}" font-size="12" fill="{{.Theme.AccentColor}}" text-anchor="middle" opacity="0.9" font-weight="500">{{x .Keywords}}</text>
  <circle cx="80" cy="180" r="2" fill="{{.Theme.AccentColor}}" opacity="0.6"/>
  <circle cx="320" cy="180" r="2" fill="{{.Theme.AccentColor}}" opacity="0.6"/>
  <circle cx="80" cy="380" r="2" fill="{{.Theme.AccentColor}}" opacity="0.6"/>
  <circle cx="320" cy="380" r="2" fill="{{.Theme.AccentColor}}" opacity="0.6"/>
  <rect x="30" y="430" width="340" height="140" fill="url(#panel)" rx="8"/>
  <text x="200" y="500" font-family="{{.Theme.FontFamily}}" font-size="12" fill="{{.Theme.AccentColor}}" text-anchor="middle" opacity="0.9" letter-spacing="2px">{{x .Theme.Name}}</text>
  <text x="200" y="545" font-family="{{.Theme.FontFamily}}" font-size="8" fill="{{.Theme.AccentColor}}" text-anchor="middle" opacity="0.6" letter-spacing="1px">ONEIROI</text>
</svg>
`
