// Package classify routes inbound mail by keyword and pulls order numbers
// out of free text.
package classify

import (
	"strings"
	"unicode"

	"supportdesk-backend/internal/mail/domain"
)

// Rule assigns Category when any keyword occurs in the folded text. A rule
// without keywords matches everything.
type Rule struct {
	Category  domain.Category
	Keywords  []string
	AutoReply bool
}

// DefaultRules is evaluated top to bottom; the first hit wins
var DefaultRules = []Rule{
	{
		Category: domain.CategoryReturnRequest,
		Keywords: []string{"iade", "geri gonder", "cayma", "refund", "return"},
	},
	{
		Category: domain.CategoryComplaint,
		Keywords: []string{"sikayet", "rezalet", "berbat", "memnun degil", "complaint"},
	},
	{
		Category:  domain.CategoryOrderInquiry,
		Keywords:  []string{"siparis", "kargo", "teslimat", "takip no", "order", "tracking", "shipment"},
		AutoReply: true,
	},
	{
		Category: domain.CategoryGeneral,
	},
}

type Classifier struct {
	rules []Rule
}

func NewClassifier(rules []Rule) *Classifier {
	folded := make([]Rule, len(rules))
	for i, r := range rules {
		folded[i] = Rule{Category: r.Category, AutoReply: r.AutoReply}
		for _, kw := range r.Keywords {
			folded[i].Keywords = append(folded[i].Keywords, fold(kw))
		}
	}
	return &Classifier{rules: folded}
}

// Classify returns the first matching rule for subject and body. With no
// catch-all rule configured an unmatched mail is GENERAL.
func (c *Classifier) Classify(subject, body string) Rule {
	text := fold(subject + "\n" + body)
	for _, r := range c.rules {
		if len(r.Keywords) == 0 {
			return r
		}
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r
			}
		}
	}
	return Rule{Category: domain.CategoryGeneral}
}

var asciiFolder = strings.NewReplacer(
	"ı", "i", "ş", "s", "ğ", "g", "ü", "u", "ö", "o", "ç", "c",
	"â", "a", "î", "i", "û", "u",
)

// fold lowercases with Turkish casing rules and drops diacritics so
// "SİPARİŞ", "Sipariş" and "siparis" compare equal.
func fold(s string) string {
	return asciiFolder.Replace(strings.ToLowerSpecial(unicode.TurkishCase, s))
}
