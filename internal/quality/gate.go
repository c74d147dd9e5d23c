// Package quality checks an article against the editorial rules the
// generator is expected to follow. The rejection policy uses it to decide
// whether a failed publish is the article's fault.
package quality

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Go-555/github-actions-note/internal/document"
)

type Config struct {
	RequiredKeys     []string
	MinChars         int
	MaxChars         int
	RequiredSections []string
	NGWords          []string
	// MaxLinkErrors is the number of links with non-ASCII characters tolerated.
	MaxLinkErrors int
	// ImageKeys name header keys holding a single image path.
	ImageKeys []string
	// ImageListKeys name header keys holding a list of image paths.
	ImageListKeys []string
	// AssetsRoot resolves relative image paths; the article's directory when empty.
	AssetsRoot string
}

var (
	DefaultRequiredKeys  = []string{document.KeyTitle}
	DefaultImageKeys     = []string{"thumbnail", "hero_image"}
	DefaultImageListKeys = []string{"internal_images"}
)

type Rule string

const (
	RuleFrontMatter Rule = "front_matter"
	RuleLength      Rule = "length"
	RuleSection     Rule = "section"
	RuleLinks       Rule = "links"
	RuleNGWord      Rule = "ng_word"
	RuleImage       Rule = "image"
)

type Violation struct {
	Rule   Rule
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

var linkPattern = regexp.MustCompile(`https?://\S+`)

type Gate struct {
	cfg    Config
	policy *bluemonday.Policy
}

func NewGate(cfg Config) *Gate {
	if cfg.RequiredKeys == nil {
		cfg.RequiredKeys = DefaultRequiredKeys
	}
	if cfg.ImageKeys == nil {
		cfg.ImageKeys = DefaultImageKeys
	}
	if cfg.ImageListKeys == nil {
		cfg.ImageListKeys = DefaultImageListKeys
	}
	return &Gate{cfg: cfg, policy: bluemonday.StrictPolicy()}
}

// Check runs every rule and returns all violations; nil means the article
// passes. articlePath locates relative image references.
func (g *Gate) Check(doc *document.Document, articlePath string) []Violation {
	var violations []Violation
	body := doc.Body()

	for _, key := range g.cfg.RequiredKeys {
		if !doc.Has(key) {
			violations = append(violations, Violation{RuleFrontMatter, "missing key " + key})
		}
	}

	if n := g.textLength(body); (g.cfg.MinChars > 0 && n < g.cfg.MinChars) || (g.cfg.MaxChars > 0 && n > g.cfg.MaxChars) {
		violations = append(violations, Violation{RuleLength,
			fmt.Sprintf("%d chars outside [%d, %d]", n, g.cfg.MinChars, g.cfg.MaxChars)})
	}

	for _, section := range g.cfg.RequiredSections {
		if !SectionPresent(body, section) {
			violations = append(violations, Violation{RuleSection, "missing section " + section})
		}
	}

	var invalid []string
	for _, link := range linkPattern.FindAllString(body, -1) {
		for _, r := range link {
			if r > 128 {
				invalid = append(invalid, link)
				break
			}
		}
	}
	if len(invalid) > g.cfg.MaxLinkErrors {
		violations = append(violations, Violation{RuleLinks,
			fmt.Sprintf("%d links with non-ASCII characters: %s", len(invalid), strings.Join(invalid, ", "))})
	}

	for _, word := range g.cfg.NGWords {
		if word != "" && strings.Contains(body, word) {
			violations = append(violations, Violation{RuleNGWord, "contains " + word})
		}
	}

	for _, rel := range g.imagePaths(doc) {
		full := g.resolveImage(rel, articlePath)
		if _, err := os.Stat(full); err != nil {
			detail := "missing image " + full
			if !errors.Is(err, fs.ErrNotExist) {
				detail = fmt.Sprintf("unreadable image %s: %v", full, err)
			}
			violations = append(violations, Violation{RuleImage, detail})
		}
	}

	return violations
}

// textLength counts characters of body with markup removed.
func (g *Gate) textLength(body string) int {
	text := html.UnescapeString(g.policy.Sanitize(body))
	return utf8.RuneCountInString(strings.TrimSpace(text))
}

func (g *Gate) imagePaths(doc *document.Document) []string {
	var paths []string
	for _, key := range g.cfg.ImageKeys {
		if v := doc.GetString(key); v != "" {
			paths = append(paths, v)
		}
	}
	for _, key := range g.cfg.ImageListKeys {
		paths = append(paths, doc.GetStrings(key)...)
	}
	return paths
}

func (g *Gate) resolveImage(rel, articlePath string) string {
	rel = strings.TrimPrefix(rel, "./")
	if filepath.IsAbs(rel) {
		return rel
	}
	root := g.cfg.AssetsRoot
	if root == "" {
		root = filepath.Dir(articlePath)
	}
	return filepath.Join(root, rel)
}
