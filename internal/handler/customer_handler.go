package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/customerbook/internal/model"
)

// CustomerServiceInterface は顧客ハンドラーが必要とするサービスインターフェース。
type CustomerServiceInterface interface {
	List(ctx context.Context) ([]*model.Customer, error)
	Get(ctx context.Context, rawID string) (*model.Customer, error)
	Create(ctx context.Context, in model.CustomerInput) (*model.Customer, error)
	Update(ctx context.Context, rawID string, in model.CustomerInput) (*model.Customer, error)
	PartialUpdate(ctx context.Context, rawID string, in model.CustomerInput) (*model.Customer, error)
	Delete(ctx context.Context, rawID string) error
}

// CustomerHandler は顧客リソースのHTTPハンドラー。
// アクセス制御はルーターでアクション単位に適用済みとする。
type CustomerHandler struct {
	service CustomerServiceInterface
}

// NewCustomerHandler はCustomerHandlerを生成する。
func NewCustomerHandler(service CustomerServiceInterface) *CustomerHandler {
	return &CustomerHandler{service: service}
}

// customerResponse は顧客情報のAPIレスポンス。
type customerResponse struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCustomerResponse(c *model.Customer) customerResponse {
	return customerResponse{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// List は顧客一覧を返す。
// GET /customers/
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]customerResponse, len(customers))
	for i, c := range customers {
		resp[i] = toCustomerResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create は顧客を作成する。
// POST /customers/
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := decodeCustomerInput(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	c, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResponse(c))
}

// Retrieve は顧客詳細を返す。
// GET /customers/{id}/
func (h *CustomerHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(c))
}

// Update は顧客の全フィールドを置き換える。
// PUT /customers/{id}/
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Update)
}

// PartialUpdate は指定されたフィールドのみ更新する。
// PATCH /customers/{id}/
func (h *CustomerHandler) PartialUpdate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.PartialUpdate)
}

// Destroy は顧客を削除する。
// DELETE /customers/{id}/
func (h *CustomerHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mutateFunc func(ctx context.Context, rawID string, in model.CustomerInput) (*model.Customer, error)

func (h *CustomerHandler) mutate(w http.ResponseWriter, r *http.Request, fn mutateFunc) {
	in, err := decodeCustomerInput(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	c, err := fn(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(c))
}

// customerFieldTargets は書き込み可能なJSONキーとCustomerInputのフィールドの対応。
// id・created_at・updated_atなど、ここにないキーは無視する。
func customerFieldTargets(in *model.CustomerInput) map[string]**string {
	return map[string]**string{
		"first_name": &in.FirstName,
		"last_name":  &in.LastName,
		"email":      &in.Email,
		"phone":      &in.Phone,
		"address":    &in.Address,
	}
}

// decodeCustomerInput はリクエストボディをCustomerInputに変換する。
// 型の誤り（null・非文字列）はフィールド単位のバリデーションエラーとする。
func decodeCustomerInput(w http.ResponseWriter, r *http.Request) (model.CustomerInput, error) {
	var in model.CustomerInput

	body, err := decodeJSONObject(w, r)
	if err != nil {
		return in, err
	}

	fields := map[string][]string{}
	for key, target := range customerFieldTargets(&in) {
		raw, ok := body[key]
		if !ok {
			continue
		}
		if string(raw) == "null" {
			fields[key] = []string{"This field may not be null."}
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			fields[key] = []string{"Not a valid string."}
			continue
		}
		*target = &s
	}
	if len(fields) > 0 {
		return model.CustomerInput{}, model.NewValidationError(fields)
	}
	return in, nil
}
