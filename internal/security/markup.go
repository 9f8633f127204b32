package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy は全てのHTML要素を除去するポリシー。
// bluemondayのPolicyは生成後の並行利用が安全なため、パッケージ変数で共有する。
var strictPolicy = bluemonday.StrictPolicy()

// StripMarkup は入力からHTMLタグを取り除いたプレーンテキストを返す。
func StripMarkup(s string) string {
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

// ContainsMarkup は入力にHTMLとして解釈される要素が含まれるかを返す。
// ユーザー名など、画面にそのまま表示される値の受け入れ判定に使う。
func ContainsMarkup(s string) bool {
	return StripMarkup(s) != s
}
