package aggregate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// legalSuffixes are trailing tokens dropped from business names.
var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "incorporated": true, "corp": true,
	"corporation": true, "ltd": true, "limited": true, "co": true,
	"pllc": true, "lp": true, "llp": true,
}

var apostropheReplacer = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "")

// NormalizeName reduces a vendor, DJ or venue name to a matching key:
// lowercase, apostrophes removed, "&" spelled out, punctuation folded to
// spaces, a leading "the" and trailing legal suffixes dropped.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	n = apostropheReplacer.Replace(n)
	n = strings.ReplaceAll(n, "&", " and ")

	fields := strings.FieldsFunc(n, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) > 1 && fields[0] == "the" {
		fields = fields[1:]
	}
	for len(fields) > 1 && legalSuffixes[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

var dayPrefixes = []struct {
	prefix string
	day    string
}{
	{"mon", "monday"},
	{"tue", "tuesday"},
	{"wed", "wednesday"},
	{"thu", "thursday"},
	{"fri", "friday"},
	{"sat", "saturday"},
	{"sun", "sunday"},
}

// NormalizeDay maps "Fri", "Fridays" or "FRIDAY" to "friday". Values that
// are not a weekday are returned lowercased.
func NormalizeDay(day string) string {
	d := strings.ToLower(strings.TrimSpace(day))
	d = strings.TrimSuffix(strings.TrimRight(d, ". "), "s")
	for _, p := range dayPrefixes {
		if strings.HasPrefix(d, p.prefix) {
			return p.day
		}
	}
	return d
}

var clockRe = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?\s*(a\.?m\.?|p\.?m\.?)?$`)

// NormalizeTime maps "8pm", "8:00 PM" and "20:00" to "20:00". For a range
// such as "9pm-1am" the start is used. Unparseable values are returned
// lowercased with spaces removed.
func NormalizeTime(t string) string {
	s := strings.ToLower(strings.TrimSpace(t))
	if s == "" {
		return ""
	}
	for _, sep := range []string{"-", "–", " to ", "until", "til"} {
		if i := strings.Index(s, sep); i > 0 {
			s = strings.TrimSpace(s[:i])
			break
		}
	}
	switch s {
	case "noon":
		return "12:00"
	case "midnight":
		return "00:00"
	}

	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return strings.ReplaceAll(s, " ", "")
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch suffix := strings.ReplaceAll(m[3], ".", ""); suffix {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return strings.ReplaceAll(s, " ", "")
	}
	return twoDigits(hour) + ":" + twoDigits(minute)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// websiteDomain returns the lowercased host without "www.", or "" when the
// value has no host.
func websiteDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// slug turns a normalized name into a key fragment.
func slug(normalized string) string {
	return strings.ReplaceAll(normalized, " ", "-")
}
