package classify

import "regexp"

// Most specific first. Patterns run against folded text, so the marker is
// spelled in ASCII lower case. The bare-digit fallback refuses runs glued to
// '.', '/', '-' or ':' so dates and times are not taken for order numbers.
var orderNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:siparis\s*(?:no|numarasi|numaram|kodu)|order\s*(?:no|number|id|#))\s*[.:]?\s*#?\s*(\d{3,})`),
	regexp.MustCompile(`#\s?(\d{3,})`),
	regexp.MustCompile(`(?:^|[^\d./:-])(\d{4,10})(?:$|[^\d./:-])`),
}

// ExtractOrderNumber returns the first order number found in text
func ExtractOrderNumber(text string) (string, bool) {
	folded := fold(text)
	for _, re := range orderNumberPatterns {
		if m := re.FindStringSubmatch(folded); m != nil {
			return m[1], true
		}
	}
	return "", false
}
