// Package classify assigns a category to a merchant name using an ordered
// rule table kept outside the code.
package classify

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"ledger/assets"
	"ledger/internal/core"
)

type Rule struct {
	Pattern    *regexp.Regexp
	Category   core.Category
	Confidence float64
}

type Match struct {
	Category   core.Category
	Confidence float64
	Matched    bool
}

// Classifier evaluates rules top to bottom; the first match wins.
type Classifier struct {
	rules    []Rule
	fallback core.Category
}

// Default returns a classifier built from the embedded rule table.
func Default() (*Classifier, error) {
	return Parse(bytes.NewReader(assets.MerchantRules))
}

// FromFile loads rules from path, or the embedded table when path is empty.
func FromFile(path string) (*Classifier, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open merchant rules: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads "pattern|category|confidence" lines. Blank lines and lines
// starting with # are skipped. The pattern may itself contain '|', so the
// last two fields are split off from the right.
func Parse(r io.Reader) (*Classifier, error) {
	c := &Classifier{fallback: core.CategoryOther}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("merchant rules line %d: %w", lineNo, err)
		}
		c.rules = append(c.rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read merchant rules: %w", err)
	}
	return c, nil
}

func parseRule(line string) (Rule, error) {
	i := strings.LastIndex(line, "|")
	if i < 0 {
		return Rule{}, fmt.Errorf("expected pattern|category|confidence")
	}
	confStr := strings.TrimSpace(line[i+1:])
	rest := line[:i]
	j := strings.LastIndex(rest, "|")
	if j < 0 {
		return Rule{}, fmt.Errorf("expected pattern|category|confidence")
	}
	pattern := strings.TrimSpace(rest[:j])
	cat := core.NormalizeCategory(rest[j+1:])

	if pattern == "" {
		return Rule{}, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile %q: %w", pattern, err)
	}
	if err := cat.Validate(); err != nil {
		return Rule{}, fmt.Errorf("category %q: %w", cat, err)
	}
	conf, err := strconv.ParseFloat(confStr, 64)
	if err != nil || conf < 0 || conf > 1 {
		return Rule{}, fmt.Errorf("confidence %q must be a number between 0 and 1", confStr)
	}
	return Rule{Pattern: re, Category: cat, Confidence: conf}, nil
}

// Classify returns the first matching rule's category, or the fallback
// category with zero confidence.
func (c *Classifier) Classify(merchant string) Match {
	name := strings.TrimSpace(merchant)
	for _, r := range c.rules {
		if r.Pattern.MatchString(name) {
			return Match{Category: r.Category, Confidence: r.Confidence, Matched: true}
		}
	}
	return Match{Category: c.fallback}
}

// Len returns the number of loaded rules.
func (c *Classifier) Len() int { return len(c.rules) }
