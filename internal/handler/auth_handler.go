// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/customerbook/internal/middleware"
	"github.com/hitoshi/customerbook/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// LoginRecorder はログイン結果を記録するインターフェース。metrics.Collectorが実装する。
type LoginRecorder interface {
	RecordLogin(success bool)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はセッション認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		recorder: recorder,
		config:   config,
	}
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Username        string `json:"username"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// meResponse は現在のユーザー情報のレスポンス。
type meResponse struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// Login はユーザー名とパスワードを検証し、セッションCookieを発行する。
// POST /auth/login/
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := decodeJSONObject(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	username := stringField(body, "username")
	password := stringField(body, "password")

	session, user, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		h.record(false)
		handleServiceError(w, r, err)
		return
	}
	h.record(true)

	// 既存セッションは破棄してから新しいセッションに切り替える
	if previous := middleware.SessionIDFromRequest(r); previous != "" && previous != session.ID {
		if err := h.service.Logout(r.Context(), previous); err != nil {
			slog.Warn("failed to discard previous session", slog.String("error", err.Error()))
		}
	}

	h.setSessionCookie(w, session.ID, h.config.SessionMaxAge)
	writeJSON(w, http.StatusOK, loginResponse{
		Username:        user.Username,
		IsAuthenticated: true,
	})
}

// Logout はセッションを破棄し、セッションCookieをクリアする。
// 未認証でも成功として扱う。
// POST /auth/logout/
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.service.Logout(r.Context(), middleware.SessionIDFromRequest(r))

	// 破棄に失敗してもCookieはクリアする
	h.setSessionCookie(w, "", -1)

	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"detail": "Logged out",
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me/
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.IdentityFromContext(r.Context())
	if user == nil {
		handleServiceError(w, r, model.NewAuthenticationRequiredError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:              user.ID,
		Username:        user.Username,
		IsAuthenticated: true,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) record(success bool) {
	if h.recorder != nil {
		h.recorder.RecordLogin(success)
	}
}

// stringField はJSONオブジェクトから文字列フィールドを取り出す。
// 存在しない、または文字列でない場合は空文字を返す。
func stringField(body map[string]json.RawMessage, key string) string {
	raw, ok := body[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
