package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

const (
	snippetRadius      = 35
	phraseConfidence   = 0.90
	keywordConfidence  = 0.75
	fallbackValue      = "unknown"
	fallbackConfidence = 0.40
)

// TextExtractor derives attribute candidates from catalog text using the
// lexicon: phrase matches first at high confidence, then word-boundary
// keyword matches. Only category falls back to an explicit unknown; other
// attributes are omitted when nothing matches.
type TextExtractor struct {
	lexicon  *Lexicon
	patterns map[string]*regexp.Regexp
}

// NewTextExtractor builds a text extractor; a nil lexicon selects the
// built-in vocabulary. Keyword patterns are compiled once here.
func NewTextExtractor(lexicon *Lexicon) *TextExtractor {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	e := &TextExtractor{
		lexicon:  lexicon,
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, section := range []AttributeLexicon{
		lexicon.Category, lexicon.RoomType, lexicon.Style, lexicon.Material,
	} {
		for _, entry := range section.Keywords {
			if _, ok := e.patterns[entry.Term]; ok {
				continue
			}
			e.patterns[entry.Term] = regexp.MustCompile(`\b` + regexp.QuoteMeta(entry.Term) + `\b`)
		}
	}
	return e
}

func (e *TextExtractor) Name() string { return "text" }

// Extract scans title and description for lexicon terms, matching against
// the ingest-normalized text when present. At most one candidate per
// attribute is produced; phrase precedence and entry order resolve competing
// matches.
func (e *TextExtractor) Extract(_ context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error) {
	if rec == nil {
		return nil, eris.Wrap(ErrMalformedInput, "extract: nil record")
	}

	var sources []string
	for _, s := range []string{rec.Title, rec.Description} {
		if s != "" {
			sources = append(sources, s)
		}
	}
	combined := rec.NormalizedText
	if combined == "" {
		lowered := make([]string, len(sources))
		for i, s := range sources {
			lowered[i] = strings.ToLower(s)
		}
		combined = strings.Join(lowered, " \n ")
	}

	var out []model.AttributeCandidate
	appendMatch := func(attr model.Attribute, lex AttributeLexicon, fallback bool) {
		if c, ok := e.matchAttribute(attr, combined, sources, lex); ok {
			out = append(out, c)
			return
		}
		if fallback {
			out = append(out, model.AttributeCandidate{
				AttributeName: attr,
				Value:         fallbackValue,
				Confidence:    fallbackConfidence,
				Source:        model.SourceText,
				ExtractedBy:   model.ExtractedByLLMStub,
			})
		}
	}

	appendMatch(model.AttrCategory, e.lexicon.Category, true)
	appendMatch(model.AttrRoomType, e.lexicon.RoomType, false)
	appendMatch(model.AttrStyle, e.lexicon.Style, false)
	appendMatch(model.AttrMaterial, e.lexicon.Material, false)

	return out, nil
}

func (e *TextExtractor) matchAttribute(attr model.Attribute, combined string, sources []string, lex AttributeLexicon) (model.AttributeCandidate, bool) {
	for _, entry := range lex.Phrases {
		if strings.Contains(combined, entry.Term) {
			return e.candidate(attr, entry, phraseConfidence, sources), true
		}
	}
	for _, entry := range lex.Keywords {
		pattern, ok := e.patterns[entry.Term]
		if !ok {
			pattern = regexp.MustCompile(`\b` + regexp.QuoteMeta(entry.Term) + `\b`)
		}
		if pattern.MatchString(combined) {
			return e.candidate(attr, entry, keywordConfidence, sources), true
		}
	}
	return model.AttributeCandidate{}, false
}

func (e *TextExtractor) candidate(attr model.Attribute, entry LexiconEntry, confidence float64, sources []string) model.AttributeCandidate {
	evidence := entry.Term
	if snippet := extractSnippet(sources, entry.Term); snippet != "" {
		evidence = snippet
	}
	return model.AttributeCandidate{
		AttributeName: attr,
		Value:         entry.Label,
		Confidence:    confidence,
		Source:        model.SourceText,
		ExtractedBy:   model.ExtractedByLLMStub,
		Evidence:      []string{evidence},
	}
}

// extractSnippet returns the matched term with surrounding context from the
// first source containing it, preserving original casing.
func extractSnippet(sources []string, needle string) string {
	for _, source := range sources {
		idx := strings.Index(strings.ToLower(source), needle)
		if idx == -1 {
			continue
		}
		start := idx - snippetRadius
		if start < 0 {
			start = 0
		}
		end := idx + len(needle) + snippetRadius
		if end > len(source) {
			end = len(source)
		}
		if snippet := strings.TrimSpace(source[start:end]); snippet != "" {
			return snippet
		}
	}
	return ""
}
