package extract

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// LexiconEntry maps one matched term to its canonical attribute value.
// Entries are ordered; earlier entries win.
type LexiconEntry struct {
	Term  string `yaml:"term"`
	Label string `yaml:"label"`
}

// AttributeLexicon holds the match tables for one attribute. Phrases are
// checked before keywords; phrase matches are plain substring matches while
// keywords require word boundaries.
type AttributeLexicon struct {
	Phrases  []LexiconEntry `yaml:"phrases"`
	Keywords []LexiconEntry `yaml:"keywords"`
}

// Lexicon is the full text-extraction vocabulary.
type Lexicon struct {
	Category AttributeLexicon `yaml:"category"`
	RoomType AttributeLexicon `yaml:"room_type"`
	Style    AttributeLexicon `yaml:"style"`
	Material AttributeLexicon `yaml:"material"`
}

// DefaultLexicon returns the built-in furniture vocabulary.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Category: AttributeLexicon{
			Phrases: []LexiconEntry{
				{"sectional sofa", "Sectional"},
				{"dining table", "Table"},
				{"coffee table", "Coffee Table"},
				{"accent chair", "Chair"},
				{"bar stool", "Stool"},
			},
			Keywords: []LexiconEntry{
				{"sofa", "Sofa"},
				{"couch", "Sofa"},
				{"sectional", "Sectional"},
				{"loveseat", "Sofa"},
				{"chair", "Chair"},
				{"stool", "Stool"},
				{"bench", "Bench"},
				{"table", "Table"},
				{"desk", "Desk"},
				{"lamp", "Lighting"},
				{"bed", "Bed"},
				{"dresser", "Dresser"},
			},
		},
		RoomType: AttributeLexicon{
			Phrases: []LexiconEntry{
				{"living room", "Living Room"},
				{"dining room", "Dining Room"},
				{"home office", "Home Office"},
				{"entryway", "Entryway"},
				{"kids room", "Kids Room"},
			},
			Keywords: []LexiconEntry{
				{"bedroom", "Bedroom"},
				{"dining", "Dining Room"},
				{"office", "Home Office"},
				{"outdoor", "Outdoor"},
				{"patio", "Outdoor"},
				{"hallway", "Entryway"},
				{"nursery", "Kids Room"},
			},
		},
		Style: AttributeLexicon{
			Phrases: []LexiconEntry{
				{"mid-century modern", "Mid-Century"},
				{"mid-century", "Mid-Century"},
				{"art deco", "Art Deco"},
				{"farmhouse chic", "Farmhouse"},
			},
			Keywords: []LexiconEntry{
				{"mid-century", "Mid-Century"},
				{"midcentury", "Mid-Century"},
				{"modern", "Modern"},
				{"rustic", "Rustic"},
				{"industrial", "Industrial"},
				{"boho", "Bohemian"},
				{"bohemian", "Bohemian"},
				{"scandi", "Scandinavian"},
				{"scandinavian", "Scandinavian"},
				{"farmhouse", "Farmhouse"},
				{"traditional", "Traditional"},
				{"minimalist", "Minimalist"},
				{"coastal", "Coastal"},
			},
		},
		Material: AttributeLexicon{
			Phrases: []LexiconEntry{
				{"solid wood", "Wood"},
				{"top-grain leather", "Leather"},
			},
			Keywords: []LexiconEntry{
				{"walnut", "Walnut"},
				{"oak", "Oak"},
				{"pine", "Pine"},
				{"leather", "Leather"},
				{"linen", "Linen"},
				{"velvet", "Velvet"},
				{"boucle", "Boucle"},
				{"metal", "Metal"},
				{"steel", "Metal"},
				{"iron", "Metal"},
				{"aluminum", "Metal"},
				{"glass", "Glass"},
				{"rattan", "Rattan"},
				{"bamboo", "Bamboo"},
				{"marble", "Marble"},
				{"stone", "Stone"},
			},
		},
	}
}

// labelCaser title-cases override labels that arrive fully lowercased, so
// merchant-supplied vocabularies land in the warehouse with consistent
// casing. Labels with any explicit casing are kept as written.
var labelCaser = cases.Title(language.AmericanEnglish)

func canonicalLabel(label string) string {
	if label != strings.ToLower(label) {
		return label
	}
	return labelCaser.String(label)
}

// LoadLexicon reads a vocabulary override from a YAML file. Attribute
// sections present in the file replace the built-in tables; missing sections
// keep the defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read lexicon %s", path)
	}

	// The YAML has a top-level "lexicon" key
	var wrapper struct {
		Lexicon Lexicon `yaml:"lexicon"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "extract: parse lexicon")
	}

	merged := DefaultLexicon()
	for _, section := range []struct {
		src *AttributeLexicon
		dst *AttributeLexicon
	}{
		{&wrapper.Lexicon.Category, &merged.Category},
		{&wrapper.Lexicon.RoomType, &merged.RoomType},
		{&wrapper.Lexicon.Style, &merged.Style},
		{&wrapper.Lexicon.Material, &merged.Material},
	} {
		if len(section.src.Phrases) == 0 && len(section.src.Keywords) == 0 {
			continue
		}
		*section.dst = normalizeSection(*section.src)
	}

	return merged, nil
}

func normalizeSection(section AttributeLexicon) AttributeLexicon {
	out := AttributeLexicon{
		Phrases:  make([]LexiconEntry, 0, len(section.Phrases)),
		Keywords: make([]LexiconEntry, 0, len(section.Keywords)),
	}
	for _, e := range section.Phrases {
		out.Phrases = append(out.Phrases, LexiconEntry{
			Term:  strings.ToLower(strings.TrimSpace(e.Term)),
			Label: canonicalLabel(strings.TrimSpace(e.Label)),
		})
	}
	for _, e := range section.Keywords {
		out.Keywords = append(out.Keywords, LexiconEntry{
			Term:  strings.ToLower(strings.TrimSpace(e.Term)),
			Label: canonicalLabel(strings.TrimSpace(e.Label)),
		})
	}
	return out
}
