// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/clerksync/internal/model"
)

// UserRepository はユーザーディレクトリの永続化インターフェース。
// すべての変更操作は単一行のアトミックなステートメントであり、
// 冪等または安全に再試行可能なように設計されている。
type UserRepository interface {
	// FindActiveByClerkID は認証用ビューでユーザーを検索する。
	// 論理削除済みの行は決して返さない。見つからない場合はnilを返す。
	FindActiveByClerkID(ctx context.Context, clerkID string) (*model.User, error)

	// FindByClerkID は論理削除済みの行も含めてユーザーを検索する。
	// Webhook同期処理が削除後のuser.updated等を判定するために使用する。
	// 見つからない場合はnilを返す。
	FindByClerkID(ctx context.Context, clerkID string) (*model.User, error)

	// Create はユーザーを作成する。非削除行がすでに存在する場合は
	// model.ErrCodeUserAlreadyExistsのAPIErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateEmail は指定clerk_idのメールアドレスを更新し、更新後の行を返す。
	// 行が存在しない場合はmodel.ErrCodeUserNotFoundのAPIErrorを返す。
	UpdateEmail(ctx context.Context, clerkID, email string) (*model.User, error)

	// SoftDelete はdeleted_atを設定し、更新後の行を返す。
	// すでに論理削除済みの場合は何もせず現在の行を返す。
	// 行が存在しない場合はmodel.ErrCodeUserNotFoundのAPIErrorを返す。
	SoftDelete(ctx context.Context, clerkID string) (*model.User, error)

	// HardDelete は行を物理削除する。管理操作専用であり、
	// Webhook同期処理からは到達しない。
	// 行が存在しない場合はmodel.ErrCodeUserNotFoundのAPIErrorを返す。
	HardDelete(ctx context.Context, clerkID string) error

	// ListActive は非削除ユーザーを作成日時の降順で返す。
	ListActive(ctx context.Context) ([]*model.User, error)

	// PurgeDeletedBefore はdeleted_atがcutoffより古い行を物理削除し、
	// 削除した行数を返す。保持期間ワーカー専用。
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
