package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)

	// Withdraw はユーザーの退会処理を実行する。
	// 全セッションを破棄し、ユーザーとIdP紐付けを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// BlankCookieWriter は削除用のセッションCookieを生成する。
type BlankCookieWriter interface {
	BlankSessionCookie() *http.Cookie
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies BlankCookieWriter
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies BlankCookieWriter) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

type identityResponse struct {
	Provider string    `json:"provider"`
	LinkedAt time.Time `json:"linked_at"`
}

type profileResponse struct {
	ID         string             `json:"id"`
	Username   string             `json:"username"`
	Admin      bool               `json:"admin"`
	Staff      bool               `json:"staff"`
	CreatedAt  time.Time          `json:"created_at"`
	Identities []identityResponse `json:"identities"`
}

// GetProfile はユーザー情報と紐付いたIdPの一覧を返す。
// GET /api/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := profileResponse{
		ID:         profile.User.ID,
		Username:   profile.User.Username,
		Admin:      profile.User.Admin,
		Staff:      profile.User.Staff,
		CreatedAt:  profile.User.CreatedAt,
		Identities: make([]identityResponse, 0, len(profile.Identities)),
	}
	for _, id := range profile.Identities {
		resp.Identities = append(resp.Identities, identityResponse{
			Provider: id.ProviderID,
			LinkedAt: id.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookies.BlankSessionCookie())
	w.WriteHeader(http.StatusNoContent)
}
