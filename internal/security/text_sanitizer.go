// Package security は入力テキストの無害化と外部URLの安全性検証を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は利用者が入力した自由記述テキストからマークアップを取り除く。
// 名前・説明・グループ名はプレーンテキストとして保存する。
type TextSanitizer interface {
	// Sanitize はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないポリシーのTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizeRounds は文字実体の多重エスケープを剥がす回数の上限。
const maxSanitizeRounds = 8

// Sanitize はマークアップを除去する。
// 文字実体で書かれたタグも復元してから除去し、プレーンテキストとして返す。
// 結果が変化しなくなるまで繰り返すため、結果を再度渡しても同じ値になる。
func (s *textSanitizer) Sanitize(raw string) string {
	cur := raw
	for range maxSanitizeRounds {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(html.UnescapeString(cur))))
		if next == cur {
			return next
		}
		cur = next
	}
	// 上限に達した場合は復元せず、エスケープされたままの形で返す
	return strings.TrimSpace(s.policy.Sanitize(cur))
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
