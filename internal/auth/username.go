package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/paddock/internal/security"
)

// ユーザー名の長さ制限（文字数）
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

// NormalizeUsername は前後の空白を取り除く。
func NormalizeUsername(raw string) string {
	return strings.TrimSpace(raw)
}

// ValidateUsername はユーザー名の形式を検証する。
// 重複の判定はDBの一意制約で行うため、ここでは扱わない。
func ValidateUsername(username string) error {
	if username == "" {
		return &ValidationError{Field: "username", Message: "ユーザー名を入力してください"}
	}
	if !utf8.ValidString(username) {
		return &ValidationError{Field: "username", Message: "ユーザー名に不正な文字コードが含まれています"}
	}

	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength {
		return &ValidationError{Field: "username", Message: "ユーザー名は3文字以上で入力してください"}
	}
	if n > MaxUsernameLength {
		return &ValidationError{Field: "username", Message: "ユーザー名は32文字以内で入力してください"}
	}

	for _, r := range username {
		if unicode.IsControl(r) {
			return &ValidationError{Field: "username", Message: "ユーザー名に制御文字は使用できません"}
		}
	}

	if security.ContainsMarkup(username) {
		return &ValidationError{Field: "username", Message: "ユーザー名にHTMLタグは使用できません"}
	}

	return nil
}
