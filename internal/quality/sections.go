package quality

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// sectionAliases maps a canonical heading to the variants generated
// articles actually use.
var sectionAliases = map[string][]string{
	"背景と課題":     {"背景と課題", "背景", "課題"},
	"結論（先出し）":   {"結論（先出し）", "結論", "結論まとめ"},
	"手順":        {"手順", "ステップ", "実行手順"},
	"よくある失敗と対策": {"よくある失敗と対策", "失敗と対策", "失敗例", "注意点"},
	"事例・効果":     {"事例・効果", "事例", "成功事例", "効果"},
	"まとめ（CTA)":  {"まとめ（CTA)", "まとめ", "次のアクション", "CTA"},
	"参考リンク":     {"参考リンク", "参考資料", "リソース"},
}

func normalize(s string) string {
	return norm.NFKC.String(s)
}

func sectionVariants(section string) []string {
	return append([]string{section}, sectionAliases[section]...)
}

// SectionPresent reports whether body mentions section or one of its
// aliases after NFKC normalisation, so full-width and half-width forms
// match each other.
func SectionPresent(body, section string) bool {
	normalizedBody := normalize(body)
	for _, variant := range sectionVariants(section) {
		v := normalize(variant)
		if v == "" {
			continue
		}
		if strings.Contains(normalizedBody, v) {
			return true
		}
	}
	return false
}

// CanonicalSection maps a heading to its canonical section name, or returns
// the heading unchanged.
func CanonicalSection(heading string) string {
	normalizedHeading := normalize(heading)
	for canonical := range sectionAliases {
		for _, alias := range sectionVariants(canonical) {
			if a := normalize(alias); a != "" && strings.Contains(normalizedHeading, a) {
				return canonical
			}
		}
	}
	return heading
}
