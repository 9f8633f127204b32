// Package auth はOAuth認証フロー、セッション管理、ユーザー登録を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// OAuthUserInfo はIdPのIDトークンから取り出したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string // IdP側の不変なsubject
	Email          string
	EmailVerified  bool
	Name           string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 認可コードフローとPKCE(S256)を前提とする。
type OAuthProvider interface {
	// Name はプロバイダーID（"google" 等）を返す。identitiesのprovider_idとして保存される。
	Name() string
	// AuthCodeURL はstateとPKCEのcode verifierから認可URLを生成する。
	AuthCodeURL(state, codeVerifier string) string
	// Exchange は認可コードとcode verifierをトークンに交換し、IDトークンを検証してユーザー情報を返す。
	Exchange(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error)
}

// Recorder は認証フローの結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordLogin(provider string)
	RecordSignupStarted(provider string)
	RecordSignupCompleted()
	RecordCallbackFailure(reason string)
	RecordSessionRenewed()
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)           {}
func (nopRecorder) RecordSignupStarted(string)   {}
func (nopRecorder) RecordSignupCompleted()       {}
func (nopRecorder) RecordCallbackFailure(string) {}
func (nopRecorder) RecordSessionRenewed()        {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

// generateToken は暗号論的に安全な32バイトのランダム値を16進文字列で返す。
// セッションID、登録待ちID、stateに使用する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
