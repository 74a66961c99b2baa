package service

import (
	"regexp"
	"strings"
)

// 消息净化是尽力而为的标签剥离，不是完整的 HTML 解析。
var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
)

// SanitizeText 去除 script 块与类 HTML 标签构造，并修剪首尾空白。
func SanitizeText(text string) string {
	cleaned := scriptBlockRe.ReplaceAllString(text, "")
	cleaned = htmlTagRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
