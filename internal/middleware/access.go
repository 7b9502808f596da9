package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/customerbook/internal/access"
)

// NewAccessMiddleware はactionに対するアクセス制御を行うミドルウェアを返す。
// セッションミドルウェアの後に配置する。拒否時は401を返す。
func NewAccessMiddleware(action access.Action) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := access.Check(action, IdentityFromContext(r.Context())); err != nil {
				slog.Warn("access denied",
					slog.String("action", string(action)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteAPIError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
