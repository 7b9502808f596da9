package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/customerbook/internal/access"
	"github.com/hitoshi/customerbook/internal/metrics"
	"github.com/hitoshi/customerbook/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Identity          middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter // nilの場合はレート制限なし
	CSRFProtection    bool
	CSRFConfig        middleware.CSRFConfig
	// trueの場合のみX-Forwarded-For/X-Real-IPでRemoteAddrを上書きする。
	// falseではレート制限のキーにソケットのアドレスを使う
	TrustProxyHeaders bool
	Logger            *slog.Logger // nilの場合はslog.Default()

	// メトリクス（どちらもnil可）
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 顧客
	CustomerService CustomerServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP(TrustProxyHeaders時のみ) → Recovery → StripSlashes → GetHead
//	→ SecurityHeaders → CORS → Metrics → Session → Logging → RateLimit(General)
//
// 顧客ルートにはさらにアクション単位のアクセス制御（と有効時はCSRF検証）を適用する。
// すべてのルートはルート直下と/api配下の両方で提供する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.StripSlashes)
	// HEADはGETのルートで応答する
	r.Use(chimw.GetHead)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(middleware.NewSessionMiddleware(deps.Identity))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	routes := apiRoutes(deps)
	r.Group(routes)
	r.Route("/api", routes)

	return r
}

// apiRoutes はヘルスチェック・認証・顧客のルートを登録する関数を返す。
func apiRoutes(deps *RouterDeps) func(r chi.Router) {
	authHandler := NewAuthHandler(deps.AuthService, loginRecorder(deps.Metrics), deps.AuthConfig)
	customerHandler := NewCustomerHandler(deps.CustomerService)

	return func(r chi.Router) {
		r.Get("/health", Health)

		r.Route("/auth", func(r chi.Router) {
			login := http.HandlerFunc(authHandler.Login)
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", login)
			} else {
				r.Post("/login", login)
			}
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Method(http.MethodGet, "/csrf", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		})

		r.Route("/customers", func(r chi.Router) {
			if deps.CSRFProtection {
				r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			}

			r.With(middleware.NewAccessMiddleware(access.ActionList)).Get("/", customerHandler.List)
			r.With(middleware.NewAccessMiddleware(access.ActionCreate)).Post("/", customerHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.With(middleware.NewAccessMiddleware(access.ActionRetrieve)).Get("/", customerHandler.Retrieve)
				r.With(middleware.NewAccessMiddleware(access.ActionUpdate)).Put("/", customerHandler.Update)
				r.With(middleware.NewAccessMiddleware(access.ActionPartialUpdate)).Patch("/", customerHandler.PartialUpdate)
				r.With(middleware.NewAccessMiddleware(access.ActionDestroy)).Delete("/", customerHandler.Destroy)
			})
		})
	}
}

// loginRecorder はnilの*metrics.CollectorをnilインターフェースとしてAuthHandlerに渡す。
func loginRecorder(c *metrics.Collector) LoginRecorder {
	if c == nil {
		return nil
	}
	return c
}
