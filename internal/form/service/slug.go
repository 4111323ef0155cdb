package service

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	slugAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugSuffixLen = 6
	slugMaxBase   = 40
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)
)

// Slugify 标题转为 URL 片段：去除重音、转小写、非字母数字替换为 -
func Slugify(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	s := slugInvalid.ReplaceAllString(strings.ToLower(folded), "-")
	s = strings.Trim(s, "-")
	if len(s) > slugMaxBase {
		s = strings.TrimRight(s[:slugMaxBase], "-")
	}
	return s
}

// ValidSlug 自定义 slug 校验
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug) && !strings.Contains(slug, "--")
}

// randomSuffix base36 随机串
func randomSuffix(n int) string {
	b := make([]byte, n)
	alphabetLen := big.NewInt(int64(len(slugAlphabet)))
	for i := range b {
		v, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			b[i] = slugAlphabet[i%len(slugAlphabet)]
			continue
		}
		b[i] = slugAlphabet[v.Int64()]
	}
	return string(b)
}

// newSlug 标题 + 随机后缀；标题为空时仅使用随机串
func newSlug(title string) string {
	base := Slugify(title)
	if base == "" {
		return randomSuffix(8)
	}
	return base + "-" + randomSuffix(slugSuffixLen)
}
