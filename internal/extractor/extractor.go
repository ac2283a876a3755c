// Package extractor pulls the "items found" count out of raw page content.
// The pattern rules are data, not code, so they can be adjusted through
// configuration without touching extraction logic.
package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrSignalNotFound indicates no rule matched the page content.
var ErrSignalNotFound = errors.New("extractor: item count not found in content")

// Rule kinds.
const (
	KindRegex    = "regex"
	KindSelector = "selector"
)

// Rule is one pattern matcher. Kind "regex" matches Pattern against the raw
// content and takes the first capture group; kind "selector" applies Pattern
// as a CSS selector and takes the first matched element's text.
type Rule struct {
	Kind    string `mapstructure:"kind"`
	Pattern string `mapstructure:"pattern"`
}

// Extractor applies an ordered rule list; the first successful match wins.
type Extractor struct {
	rules    []Rule
	compiled []*regexp.Regexp
}

// DefaultRules covers the count markup variants observed on the monitored
// listing pages.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: KindRegex, Pattern: `([\d,]+)\s+(?:item|product|result)s?\s+found`},
		{Kind: KindRegex, Pattern: `(?:showing|of|over)\s+([\d,]+)\s+(?:item|product|result)s?`},
		{Kind: KindRegex, Pattern: `"totalCount"\s*:\s*(\d+)`},
		{Kind: KindSelector, Pattern: `.product-count, span.length, [data-testid="results-count"]`},
	}
}

// New compiles an extractor from the given rules. Invalid regex patterns are
// rejected up front rather than at extraction time.
func New(rules []Rule) (*Extractor, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	compiled := make([]*regexp.Regexp, len(rules))
	for i, rule := range rules {
		switch rule.Kind {
		case KindRegex:
			re, err := regexp.Compile(`(?i)` + rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile rule %d: %w", i, err)
			}
			compiled[i] = re
		case KindSelector:
			// validated lazily by goquery
		default:
			return nil, fmt.Errorf("rule %d: unknown kind %q", i, rule.Kind)
		}
	}

	return &Extractor{rules: rules, compiled: compiled}, nil
}

// Extract returns the first rule match parsed as a base-10 integer with
// thousands separators stripped. No side effects.
func (e *Extractor) Extract(content string) (int, error) {
	var doc *goquery.Document

	for i, rule := range e.rules {
		switch rule.Kind {
		case KindRegex:
			m := e.compiled[i].FindStringSubmatch(content)
			if len(m) < 2 {
				continue
			}
			if n, ok := parseCount(m[1]); ok {
				return n, nil
			}
		case KindSelector:
			if doc == nil {
				parsed, err := goquery.NewDocumentFromReader(strings.NewReader(content))
				if err != nil {
					continue
				}
				doc = parsed
			}
			if n, ok := selectCount(doc, rule.Pattern); ok {
				return n, nil
			}
		}
	}

	return 0, ErrSignalNotFound
}

var digitsRe = regexp.MustCompile(`[\d,]+`)

func selectCount(doc *goquery.Document, selector string) (int, bool) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return 0, false
	}
	m := digitsRe.FindString(sel.Text())
	if m == "" {
		return 0, false
	}
	return parseCount(m)
}

func parseCount(raw string) (int, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, false
	}
	return n, true
}
