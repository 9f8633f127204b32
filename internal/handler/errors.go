package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPレスポンスに変換する。
//
//   - プロトコルエラー（auth.ErrAuthenticationFailed）: 400
//   - 入力エラー（*auth.ValidationError）: 422、対象フィールド付き
//   - 登録待ちの失効・消費済み: サインイン画面へ302
//   - 未登録プロバイダー: 404
//   - *model.APIError: コードに応じたステータス
//   - それ以外: 500（詳細はログのみ）
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *auth.ValidationError
	var apiErr *model.APIError

	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewAuthenticationFailedError())
	case errors.As(err, &validationErr):
		if errors.Is(validationErr, auth.ErrUsernameTaken) {
			middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewUsernameTakenError())
			return
		}
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewInvalidUsernameError(validationErr.Message))
	case errors.Is(err, auth.ErrPendingSignupNotFound), errors.Is(err, auth.ErrIdentityAlreadyLinked):
		http.Redirect(w, r, signInPath, http.StatusFound)
	case errors.Is(err, auth.ErrUnknownProvider):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(providerParam(r)))
	case errors.As(err, &apiErr):
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
	default:
		slog.Error("internal server error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthenticationFailed:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeUnknownProvider:
		return http.StatusNotFound
	case model.ErrCodeInvalidUsername, model.ErrCodeUsernameTaken:
		return http.StatusUnprocessableEntity
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
