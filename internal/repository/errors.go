package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrPendingSignupNotFound は登録待ちが存在しないか失効していることを表す。
	ErrPendingSignupNotFound = errors.New("pending signup not found")
	// ErrUsernameTaken はユーザー名が既に使われていることを表す。
	ErrUsernameTaken = errors.New("username already taken")
	// ErrIdentityAlreadyLinked はIdPアカウントが既に別ユーザーに紐付いていることを表す。
	ErrIdentityAlreadyLinked = errors.New("identity already linked")
	// ErrSessionNotFound はセッションが既に存在しないことを表す。
	ErrSessionNotFound = errors.New("session not found")
)

// PostgreSQLのエラーコードと制約名
const (
	pqUniqueViolation = "23505"

	constraintUsernameUnique = "users_username_lower_key"
	constraintIdentityPKey   = "identities_pkey"
)

// uniqueViolation は一意制約違反であれば制約名を返す。
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
