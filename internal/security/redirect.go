package security

import (
	"net/url"
	"strings"
)

// SafeReturnPath はログイン後の戻り先として安全なパスのみを返す。
// 同一オリジンの絶対パス以外（外部URL、スキーム相対URL、バックスラッシュを含むもの）は空文字を返す。
func SafeReturnPath(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return ""
	}
	if strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n\t") {
		return ""
	}

	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return next
}
