package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/customerbook/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// UserFinder はユーザー名によるユーザー検索インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// CredentialStore はユーザー名とbcryptハッシュ化されたパスワードの照合を行う。
type CredentialStore struct {
	users UserFinder
	cost  int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewCredentialStore はCredentialStoreを生成する。
// costにはbcryptのコストを指定する。0以下の場合はbcrypt.DefaultCostを使用する。
func NewCredentialStore(users UserFinder, cost int) *CredentialStore {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &CredentialStore{users: users, cost: cost}
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func (c *CredentialStore) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify はユーザー名とパスワードを照合し、一致した場合にユーザーを返す。
// ユーザーが存在しない場合もパスワード不一致の場合もnil, nilを返す。
// 未登録ユーザーでもダミーハッシュとの比較を1回行い、応答時間から存在有無が推測されないようにする。
func (c *CredentialStore) Verify(ctx context.Context, username, password string) (*model.User, error) {
	user, err := c.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		_ = bcrypt.CompareHashAndPassword(c.dummy(), []byte(password))
		return nil, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compare password hash: %w", err)
	}

	return user, nil
}

func (c *CredentialStore) dummy() []byte {
	c.dummyOnce.Do(func() {
		c.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("customerbook-dummy-password"), c.cost)
	})
	return c.dummyHash
}
