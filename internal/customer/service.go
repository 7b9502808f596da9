// Package customer は顧客レコードのCRUDに関するドメインロジックを提供する。
package customer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/customerbook/internal/model"
	"github.com/hitoshi/customerbook/internal/repository"
)

// timestampResolution はPostgreSQLのtimestamptzの精度。
// 保存前に時刻を丸めることで、読み戻した値と比較しても一致する。
const timestampResolution = time.Microsecond

// MutationRecorder は顧客レコードの変更件数を記録するインターフェース。
// metrics.Collectorが実装する。
type MutationRecorder interface {
	RecordCustomerMutation(action string)
}

// Service は顧客管理のサービス層。
// アクセス制御は呼び出し元（HTTPミドルウェア）で済んでいる前提とする。
type Service struct {
	repo     repository.CustomerRepository
	recorder MutationRecorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderはnilでもよい。
func NewService(repo repository.CustomerRepository, recorder MutationRecorder) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		now:      time.Now,
	}
}

// List は全顧客を作成順に返す。ページネーションやフィルタは行わない。
func (s *Service) List(ctx context.Context) ([]*model.Customer, error) {
	customers, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

// Get は指定IDの顧客を返す。
func (s *Service) Get(ctx context.Context, rawID string) (*model.Customer, error) {
	id, ok := parseID(rawID)
	if !ok {
		return nil, model.NewCustomerNotFoundError(rawID)
	}

	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	if c == nil {
		return nil, model.NewCustomerNotFoundError(rawID)
	}
	return c, nil
}

// Create は全フィールドを検証して顧客を作成する。
// ID・created_at・updated_atはサーバー側で設定し、created_at == updated_at となる。
func (s *Service) Create(ctx context.Context, in model.CustomerInput) (*model.Customer, error) {
	normalize(&in)
	if errs := validate(&in, true); errs != nil {
		return nil, model.NewValidationError(errs)
	}

	now := s.timestamp()
	c := &model.Customer{CreatedAt: now, UpdatedAt: now}
	in.Apply(c)

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.record("create")
	slog.Info("customer created", slog.Int64("customer_id", c.ID))
	return c, nil
}

// Update は全フィールドを必須として顧客を置き換える。
func (s *Service) Update(ctx context.Context, rawID string, in model.CustomerInput) (*model.Customer, error) {
	return s.mutate(ctx, rawID, in, true, "update")
}

// PartialUpdate は指定されたフィールドのみを検証・置換する。
// 指定されなかったフィールドは既存値を維持する。
func (s *Service) PartialUpdate(ctx context.Context, rawID string, in model.CustomerInput) (*model.Customer, error) {
	return s.mutate(ctx, rawID, in, false, "partial_update")
}

// Delete は指定IDの顧客を削除する。
func (s *Service) Delete(ctx context.Context, rawID string) error {
	id, ok := parseID(rawID)
	if !ok {
		return model.NewCustomerNotFoundError(rawID)
	}

	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if !found {
		return model.NewCustomerNotFoundError(rawID)
	}

	s.record("destroy")
	slog.Info("customer deleted", slog.Int64("customer_id", id))
	return nil
}

// mutate はUpdate/PartialUpdateの共通処理。
// バリデーションに失敗した場合は一切変更しない。
func (s *Service) mutate(ctx context.Context, rawID string, in model.CustomerInput, requireAll bool, action string) (*model.Customer, error) {
	id, ok := parseID(rawID)
	if !ok {
		return nil, model.NewCustomerNotFoundError(rawID)
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	if current == nil {
		return nil, model.NewCustomerNotFoundError(rawID)
	}

	normalize(&in)
	if errs := validate(&in, requireAll); errs != nil {
		return nil, model.NewValidationError(errs)
	}

	updated := *current
	in.Apply(&updated)
	updated.UpdatedAt = s.nextUpdatedAt(current.UpdatedAt)

	found, err := s.repo.Update(ctx, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}
	if !found {
		// 取得後に別リクエストで削除された
		return nil, model.NewCustomerNotFoundError(rawID)
	}

	s.record(action)
	slog.Info("customer updated",
		slog.Int64("customer_id", id),
		slog.String("action", action),
	)
	return &updated, nil
}

// timestamp はDBの精度に丸めた現在時刻を返す。
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(timestampResolution)
}

// nextUpdatedAt はprevより厳密に大きいupdated_atを返す。
// 時計の精度不足や巻き戻りがあってもupdated_atは単調増加する。
func (s *Service) nextUpdatedAt(prev time.Time) time.Time {
	now := s.timestamp()
	if floor := prev.Add(timestampResolution); now.Before(floor) {
		return floor
	}
	return now
}

func (s *Service) record(action string) {
	if s.recorder != nil {
		s.recorder.RecordCustomerMutation(action)
	}
}

// parseID はパスパラメータを正の整数IDとして解釈する。
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
