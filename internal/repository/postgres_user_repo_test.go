package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/clerksync/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil, 5*time.Second)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresUserRepoがタイムアウト未指定時にデフォルト値を使うことを検証
func TestNewPostgresUserRepo_DefaultTimeout(t *testing.T) {
	repo := NewPostgresUserRepo(nil, 0)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
	if repo.timeout <= 0 {
		t.Errorf("expected positive default timeout, got %v", repo.timeout)
	}
}

// ユニットテスト: IsDeletedが論理削除の判定に使えること
// （DB接続なしでロジックのみ検証）
func TestUser_IsDeleted_Concept(t *testing.T) {
	active := &model.User{ID: "u1", ClerkID: "clerk_1"}
	if active.IsDeleted() {
		t.Error("user without deleted_at should not be deleted")
	}

	deletedAt := time.Now()
	deleted := &model.User{ID: "u2", ClerkID: "clerk_2", DeletedAt: &deletedAt}
	if !deleted.IsDeleted() {
		t.Error("user with deleted_at should be deleted")
	}
}
