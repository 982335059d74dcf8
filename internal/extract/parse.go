package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// defaultConfidence is used when the model omits a confidence value.
const defaultConfidence = 0.5

// ErrNoJSON is returned when the model reply has no decodable JSON object.
var ErrNoJSON = eris.New("no json object in model output")

// Parsed holds the entities decoded from one model reply.
type Parsed struct {
	Vendor *model.VendorCandidate
	DJs    []model.DJCandidate
	Shows  []model.ShowCandidate
	// Dropped counts entries discarded during validation.
	Dropped int
}

// ParseOutput finds the first balanced JSON object in text that decodes,
// then validates and coerces it. Prose and code fences around the object
// are ignored. A reply whose object has none of the vendor, djs or shows
// keys, or whose keys have the wrong shape, is rejected.
func ParseOutput(text string) (*Parsed, error) {
	obj, err := firstJSONObject(text)
	if err != nil {
		return nil, err
	}

	vendorRaw, hasVendor := obj["vendor"]
	djsRaw, hasDJs := obj["djs"]
	showsRaw, hasShows := obj["shows"]
	if !hasVendor && !hasDJs && !hasShows {
		return nil, eris.New("model output has no vendor, djs or shows")
	}

	p := &Parsed{DJs: []model.DJCandidate{}, Shows: []model.ShowCandidate{}}

	switch v := vendorRaw.(type) {
	case nil:
	case map[string]any:
		p.Vendor = coerceVendor(v)
		if p.Vendor == nil {
			p.Dropped++
		}
	default:
		return nil, eris.Errorf("vendor must be an object, got %T", vendorRaw)
	}

	djs, err := asList("djs", djsRaw)
	if err != nil {
		return nil, err
	}
	for _, item := range djs {
		m, ok := item.(map[string]any)
		if !ok {
			p.Dropped++
			continue
		}
		dj := model.DJCandidate{
			Name:       str(m["name"]),
			Context:    str(m["context"]),
			Confidence: confidence(m["confidence"]),
		}
		if dj.Name == "" {
			p.Dropped++
			continue
		}
		p.DJs = append(p.DJs, dj)
	}

	shows, err := asList("shows", showsRaw)
	if err != nil {
		return nil, err
	}
	for _, item := range shows {
		m, ok := item.(map[string]any)
		if !ok {
			p.Dropped++
			continue
		}
		s := coerceShow(m)
		if s.Venue == "" {
			p.Dropped++
			continue
		}
		p.Shows = append(p.Shows, s)
	}

	if p.Dropped > 0 {
		zap.L().Warn("extract: dropped malformed entries", zap.Int("dropped", p.Dropped))
	}
	return p, nil
}

func asList(key string, v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	default:
		return nil, eris.Errorf("%s must be an array, got %T", key, v)
	}
}

func coerceVendor(m map[string]any) *model.VendorCandidate {
	name := str(m["name"])
	if name == "" {
		return nil
	}
	return &model.VendorCandidate{
		Name:        name,
		Website:     str(m["website"]),
		Description: str(m["description"]),
		Confidence:  confidence(m["confidence"]),
	}
}

func coerceShow(m map[string]any) model.ShowCandidate {
	s := model.ShowCandidate{
		Venue:       str(m["venue"]),
		Address:     str(m["address"]),
		City:        str(m["city"]),
		State:       str(m["state"]),
		Zip:         str(m["zip"]),
		Day:         str(m["day"]),
		Time:        str(m["time"]),
		StartTime:   str(m["start_time"]),
		EndTime:     str(m["end_time"]),
		DJName:      str(m["dj_name"]),
		VendorName:  str(m["vendor_name"]),
		Description: str(m["description"]),
		Confidence:  confidence(m["confidence"]),
	}
	if lat := num(m["lat"]); lat != nil && *lat >= -90 && *lat <= 90 {
		s.Lat = lat
	}
	if lng := num(m["lng"]); lng != nil && *lng >= -180 && *lng <= 180 {
		s.Lng = lng
	}
	if s.Lat == nil || s.Lng == nil {
		s.Lat, s.Lng = nil, nil
	}
	return s
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func num(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// confidence reads a 0..1 score. Percentages are scaled down and the
// result is clamped.
func confidence(v any) float64 {
	f := num(v)
	if f == nil {
		return defaultConfidence
	}
	c := *f
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Max(0, math.Min(1, c))
}

// firstJSONObject scans text for balanced {...} spans, honoring string
// literals, and returns the first one that decodes as an object.
func firstJSONObject(text string) (map[string]any, error) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchBrace(text, start)
		if end > start {
			var obj map[string]any
			if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
				return obj, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start, or
// -1 if the object is unterminated.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
