package handler

import "net/http"

// Health はサーバーの稼働確認に応答する。
// GET /health/
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Server is up!",
	})
}
