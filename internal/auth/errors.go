package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed はOAuthのプロトコルエラー全般を表す。
	// 利用者には一律の失敗として見せ、原因はログに残す。
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrPendingSignupNotFound は登録待ちが存在しないか失効していることを表す。
	ErrPendingSignupNotFound = errors.New("pending signup not found or expired")

	// ErrIdentityAlreadyLinked は登録しようとしたIdPアカウントが既にユーザーに紐付いていることを表す。
	ErrIdentityAlreadyLinked = errors.New("identity already linked to a user")

	// ErrUsernameTaken はユーザー名が既に使われていることを表す。
	ErrUsernameTaken = errors.New("username already taken")

	// ErrUnknownProvider は未登録のプロバイダーが指定されたことを表す。
	ErrUnknownProvider = errors.New("unknown oauth provider")
)

// コールバック失敗の理由。メトリクスのラベルとログに使う。
const (
	ReasonMissingStateCookie = "missing_state_cookie"
	ReasonInvalidStateCookie = "invalid_state_cookie"
	ReasonStateMismatch      = "state_mismatch"
	ReasonStateReplayed      = "state_replayed"
	ReasonMissingCode        = "missing_code"
	ReasonProviderDenied     = "provider_denied"
	ReasonUnknownProvider    = "unknown_provider"
	ReasonExchangeFailed     = "exchange_failed"
)

// AuthError はコールバック処理で検出したプロトコルエラー。
// errors.Is(err, ErrAuthenticationFailed) で判定できる。
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is は ErrAuthenticationFailed との比較で真を返す。
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// ValidationError はフォーム入力の検証エラー。Field は対象フィールド名。
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }
