package extract

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

const dimUnits = `cm|mm|m|in|inch|inches|ft|feet`

// axisRe matches chained dimensions like `60 x 30 x 18 in` or `72" W x 36" D`,
// with the height leg optional.
var axisRe = regexp.MustCompile(`(?i)` +
	`(?P<w>\d+(?:\.\d+)?)\s*(?P<unitw>` + dimUnits + `)?\s*(?:["”]?\s*(?:w|width))?\s*(?:x|×)\s*` +
	`(?P<d>\d+(?:\.\d+)?)\s*(?P<unitd>` + dimUnits + `)?\s*(?:["”]?\s*(?:d|depth))?` +
	`(?:\s*(?:x|×)\s*(?P<h>\d+(?:\.\d+)?)\s*(?P<unith>` + dimUnits + `)?\s*(?:["”]?\s*(?:h|height))?)?` +
	`\s*(?P<trailing>` + dimUnits + `)?`)

// labelRe matches labeled axes like `width: 30 in` or `h 18 cm`.
var labelRe = regexp.MustCompile(`(?i)(?P<label>w|width|d|depth|h|height)\s*(?:[:=]\s*)?(?P<value>\d+(?:\.\d+)?)(?:\s*(?P<unit>` + dimUnits + `))?`)

type dimensionSet struct {
	width  *float64
	depth  *float64
	height *float64
	unit   string
}

func (d dimensionSet) count() int {
	n := 0
	for _, v := range []*float64{d.width, d.depth, d.height} {
		if v != nil {
			n++
		}
	}
	return n
}

func (d dimensionSet) score() int {
	score := d.count() * 10
	if d.unit != "" {
		score++
	}
	return score
}

// format renders the present axes in w x d x h order, unit last.
func (d dimensionSet) format() string {
	var parts []string
	for _, v := range []*float64{d.width, d.depth, d.height} {
		if v != nil {
			parts = append(parts, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	s := strings.Join(parts, " x ")
	if d.unit != "" {
		s += " " + d.unit
	}
	return s
}

type dimCandidate struct {
	dims        dimensionSet
	evidence    string
	score       int
	sourceIndex int
	position    int
}

// DimensionsExtractor finds product dimensions in free text with the axis and
// label rules, scoring candidates by axis count and unit presence.
type DimensionsExtractor struct{}

// NewDimensionsExtractor builds the rule-based dimensions extractor.
func NewDimensionsExtractor() *DimensionsExtractor { return &DimensionsExtractor{} }

func (e *DimensionsExtractor) Name() string { return "dimensions" }

// Extract emits at most one dimensions candidate; records with no
// recognizable measurements yield none. The description is preferred over the
// title when candidates tie on score.
func (e *DimensionsExtractor) Extract(_ context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error) {
	if rec == nil {
		return nil, eris.Wrap(ErrMalformedInput, "extract: nil record")
	}

	var sources []string
	for _, s := range []string{rec.Description, rec.Title} {
		if s != "" {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}

	var candidates []dimCandidate
	for idx, text := range sources {
		candidates = append(candidates, findAxisCandidates(text, idx)...)
		candidates = append(candidates, findLabelCandidates(text, idx)...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].sourceIndex != candidates[j].sourceIndex {
			return candidates[i].sourceIndex < candidates[j].sourceIndex
		}
		return candidates[i].position < candidates[j].position
	})
	best := candidates[0]

	confidence := 0.75
	switch best.dims.count() {
	case 3:
		confidence = 0.95
	case 2:
		confidence = 0.85
	}

	return []model.AttributeCandidate{{
		AttributeName: model.AttrDimensions,
		Value:         best.dims.format(),
		Confidence:    confidence,
		Source:        model.SourceText,
		ExtractedBy:   model.ExtractedByRules,
		Evidence:      []string{strings.TrimSpace(best.evidence)},
	}}, nil
}

func findAxisCandidates(text string, sourceIndex int) []dimCandidate {
	var out []dimCandidate
	for _, loc := range axisRe.FindAllStringSubmatchIndex(text, -1) {
		groups := submatchMap(axisRe, text, loc)
		dims := dimensionSet{
			width:  parseFloat(groups["w"]),
			depth:  parseFloat(groups["d"]),
			height: parseFloat(groups["h"]),
		}
		if dims.count() == 0 {
			continue
		}
		dims.unit = selectUnit(groups, text[loc[0]:loc[1]])
		out = append(out, dimCandidate{
			dims:        dims,
			evidence:    text[loc[0]:loc[1]],
			score:       dims.score(),
			sourceIndex: sourceIndex,
			position:    loc[0],
		})
	}
	return out
}

// findLabelCandidates accumulates consecutive labeled axes into one
// candidate, flushing whenever a label repeats. Runs of fewer than two axes
// are discarded.
func findLabelCandidates(text string, sourceIndex int) []dimCandidate {
	matches := labelRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var out []dimCandidate
	current := dimensionSet{}
	currentStart := -1
	lastEnd := -1
	seen := map[byte]bool{}

	flush := func(end int) {
		if current.count() >= 2 && currentStart >= 0 {
			c := dimCandidate{
				dims:        current,
				evidence:    text[currentStart:end],
				score:       current.score(),
				sourceIndex: sourceIndex,
				position:    currentStart,
			}
			out = append(out, c)
		}
		current = dimensionSet{}
		currentStart = -1
		lastEnd = -1
		seen = map[byte]bool{}
	}

	for _, loc := range matches {
		groups := submatchMap(labelRe, text, loc)
		label := strings.ToLower(groups["label"])[0]
		value := parseFloat(groups["value"])
		unit := normalizeUnit(groups["unit"])

		if seen[label] {
			flush(loc[0])
		}
		if currentStart < 0 {
			currentStart = loc[0]
		}
		lastEnd = loc[1]
		seen[label] = true
		assignAxis(&current, label, value, unit)
	}
	if currentStart >= 0 && lastEnd >= 0 {
		flush(lastEnd)
	}

	return out
}

func assignAxis(dims *dimensionSet, label byte, value *float64, unit string) {
	if value == nil {
		return
	}
	switch label {
	case 'w':
		if dims.width == nil {
			dims.width = value
		}
	case 'd':
		if dims.depth == nil {
			dims.depth = value
		}
	case 'h':
		if dims.height == nil {
			dims.height = value
		}
	}
	if dims.unit == "" && unit != "" {
		dims.unit = unit
	}
}

// submatchMap extracts named groups from a FindAllStringSubmatchIndex entry.
func submatchMap(re *regexp.Regexp, text string, loc []int) map[string]string {
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name == "" || 2*i+1 >= len(loc) {
			continue
		}
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			continue
		}
		groups[name] = text[start:end]
	}
	return groups
}

func selectUnit(groups map[string]string, matched string) string {
	for _, key := range []string{"trailing", "unitw", "unitd", "unith"} {
		if u := normalizeUnit(groups[key]); u != "" {
			return u
		}
	}
	if strings.Contains(matched, `"`) || strings.Contains(matched, "”") {
		return "in"
	}
	if strings.Contains(matched, "'") {
		return "ft"
	}
	return ""
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func normalizeUnit(unit string) string {
	unit = strings.ToLower(unit)
	switch unit {
	case "inch", "inches":
		return "in"
	case "feet", "foot":
		return "ft"
	default:
		return unit
	}
}
