// Package bulk は1行1件のテキスト入力（「値 | 値」形式）を解析する。
package bulk

import (
	"fmt"
	"strings"

	"github.com/hitoshi/fleetdesk/internal/model"
)

// Separator は1行内の項目区切り。
const Separator = "|"

// NumberLine は「番号 | メモ」形式の1行。番号テーブルにメモの列はないため番号だけを持つ。
type NumberLine struct {
	Line   int
	Number string
}

// LineError は解析できなかった行。Lineは1始まり。
type LineError struct {
	Line   int    `json:"line"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason"`
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseNumberLines は「番号 | メモ」形式のテキストを解析する。
// 空行は読み飛ばし、区切り以降のメモは読み捨てる。
func ParseNumberLines(text string) ([]NumberLine, []LineError) {
	var (
		out  []NumberLine
		errs []LineError
	)
	for i, raw := range splitLines(text) {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		parts := splitParts(line)
		if parts[0] == "" {
			errs = append(errs, LineError{Line: i + 1, Text: line, Reason: "number is missing"})
			continue
		}
		out = append(out, NumberLine{Line: i + 1, Number: parts[0]})
	}
	return out, errs
}

// GroupLinkLine は「グループ名 | URL」形式の1行。
type GroupLinkLine struct {
	Line int
	Link model.NewGroupLink
}

// ParseGroupLinkLines は「グループ名 | URL」形式のテキストを解析する。
// 空行は読み飛ばし、どちらかが欠けている行はエラーとして返す。
func ParseGroupLinkLines(text string) ([]GroupLinkLine, []LineError) {
	var (
		out  []GroupLinkLine
		errs []LineError
	)
	for i, raw := range splitLines(text) {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		parts := splitParts(line)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, LineError{Line: i + 1, Text: line, Reason: "expected \"name | url\""})
			continue
		}
		out = append(out, GroupLinkLine{
			Line: i + 1,
			Link: model.NewGroupLink{GroupName: parts[0], URL: parts[1]},
		})
	}
	return out, errs
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// splitParts は区切りで分割し、各項目の前後の空白を取り除く。
// URLに区切り文字が含まれる場合に備え、分割は最初の区切りのみで行う。
func splitParts(line string) []string {
	parts := strings.SplitN(line, Separator, 2)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
