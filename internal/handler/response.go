package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/customerbook/internal/middleware"
	"github.com/hitoshi/customerbook/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログにのみ記録し、500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	middleware.WriteAPIError(w, err)
}

// decodeJSONObject はリクエストボディを1つのJSONオブジェクトとしてデコードする。
// オブジェクト以外（配列・スカラー・空ボディ）はINVALID_REQUESTとなる。
func decodeJSONObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	var body map[string]json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil || body == nil {
		return nil, model.NewInvalidRequestError()
	}
	if dec.More() {
		return nil, model.NewInvalidRequestError()
	}
	return body, nil
}

// notFound は未定義ルートに統一フォーマットの404を返す。
func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPIError(w, model.NewNotFoundError())
}

// methodNotAllowed は統一フォーマットの405を返す。
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPIError(w, model.NewMethodNotAllowedError(r.Method))
}
