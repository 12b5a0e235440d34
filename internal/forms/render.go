package forms

import (
	"bytes"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown

	htmlPolicyOnce sync.Once
	htmlPolicy     *bluemonday.Policy
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

func descriptionPolicy() *bluemonday.Policy {
	htmlPolicyOnce.Do(func() {
		htmlPolicy = bluemonday.UGCPolicy()
		htmlPolicy.RequireNoFollowOnLinks(true)
		htmlPolicy.AddTargetBlankToFullyQualifiedLinks(true)
	})
	return htmlPolicy
}

// DescriptionHTML renders form or step description markdown to sanitised
// HTML. Raw HTML embedded in the markdown is stripped by the policy.
func DescriptionHTML(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(src), &buf); err != nil {
		return descriptionPolicy().Sanitize(src)
	}
	return strings.TrimSpace(string(descriptionPolicy().SanitizeBytes(buf.Bytes())))
}
