// Package model はドメインモデルを定義する。
package model

import "time"

// User はClerkアカウントのローカル投影を表す。
// 作成・更新・論理削除はWebhook同期処理のみが行い、
// ローカルコピーとClerk側の真実との乖離を防ぐ。
type User struct {
	ID        string     // ローカル生成の主キー（イミュータブル）
	ClerkID   string     // Clerk側のsubject識別子。Webhook照合の唯一の結合キー
	Email     string     // 現在のプライマリメールアドレス
	CreatedAt time.Time  // 作成時に1回だけ設定
	DeletedAt *time.Time // 非nilで論理削除済み。行は監査用に残す
}

// IsDeleted はユーザーが論理削除済みかどうかを返す。
// 論理削除済みユーザーは認証ルックアップに決してヒットしない。
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Principal は認証済みリクエストに付与されるユーザーの読み取り専用投影。
// 1リクエストの間だけ存在し、永続化されない。
type Principal struct {
	ID      string
	ClerkID string
	Email   string
}

// NewPrincipal はUserからPrincipalを生成する。
func NewPrincipal(u *User) *Principal {
	return &Principal{
		ID:      u.ID,
		ClerkID: u.ClerkID,
		Email:   u.Email,
	}
}
