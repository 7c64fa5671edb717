package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	spacePattern = regexp.MustCompile(`\s+`)
	slugInvalid  = regexp.MustCompile(`[^a-z0-9]+`)

	// Policy 构建完成后可并发使用
	strictPolicy = newStrictPolicy()
	postPolicy   = bluemonday.UGCPolicy()
)

func newStrictPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

// StripTags 去除所有 HTML 标签（script/style 内容一并丢弃）并解码实体
func StripTags(s string) string {
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// TextField 单行纯文本：去标签、去控制字符、合并空白
func TextField(s string) string {
	s = StripTags(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// PostHTML 按 UGC 白名单保留普通排版标签，其余标签和属性一律移除
func PostHTML(s string) string {
	return strings.TrimSpace(postPolicy.Sanitize(s))
}

// Slug 生成 URL 友好的 slug，去除变音符号
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(TextField(folded))
	return strings.Trim(slugInvalid.ReplaceAllString(folded, "-"), "-")
}

// UpperFirst 首字母大写
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
