// Package user はClerk Webhookによるユーザー同期と管理操作のドメインロジックを提供する。
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/clerksync/internal/model"
	"github.com/hitoshi/clerksync/internal/repository"
)

// Webhookイベント種別。Clerkからのライフサイクル通知に対応する。
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// WebhookEvent はClerkから配信されるWebhookペイロードを表す。
// dataの形はtypeごとに異なるため、ここでは生のJSONとして保持する。
type WebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// userEventData はuser.*イベントのdataペイロード。
type userEventData struct {
	ID                    string         `json:"id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
}

// emailAddress はClerkのメールアドレスエントリ。
type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// UserView はWebhookレスポンスおよび管理APIで返すユーザーの表現。
type UserView struct {
	ID        string     `json:"id"`
	ClerkID   string     `json:"clerk_id"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// newUserView はmodel.UserからUserViewを生成する。
func newUserView(u *model.User) *UserView {
	return &UserView{
		ID:        u.ID,
		ClerkID:   u.ClerkID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		DeletedAt: u.DeletedAt,
	}
}

// WebhookResult はWebhook処理1件の業務的な結果を表す。
// Clerkの配信はat-least-onceであり、非2xxレスポンスは同じ順序問題を
// 再現するリトライを誘発するだけのため、前提条件違反もこの結果に
// 載せてHTTP 200で返す。Successがfalseでも配信自体は処理済み。
type WebhookResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	User    *UserView `json:"user,omitempty"`
}

// EventRecorder はWebhookイベントの処理結果を記録するインターフェース。
// metrics.Collectorの部分集合として定義する。
type EventRecorder interface {
	RecordWebhookEvent(eventType, outcome string)
}

// Service はユーザー同期と管理操作のサービス層。
type Service struct {
	repo    repository.UserRepository
	metrics EventRecorder
}

// NewService はServiceを生成する。metricsはnilを許容する。
func NewService(repo repository.UserRepository, metrics EventRecorder) *Service {
	return &Service{repo: repo, metrics: metrics}
}

// recordEvent はイベント処理結果をメトリクスに記録する。
func (s *Service) recordEvent(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(eventType, outcome)
	}
}

// ProcessWebhook はWebhookイベントを種別に応じてユーザーディレクトリに適用する。
// 各ハンドラーは重複配信・順序逆転のもとで安全に再実行できる。
// 戻り値のerrorは予期しない内部エラー（HTTP 5xx相当）のみに使用する。
func (s *Service) ProcessWebhook(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	slog.Info("processing webhook event", slog.String("type", event.Type))

	switch event.Type {
	case EventUserCreated:
		return s.createUser(ctx, event)
	case EventUserUpdated:
		return s.updateUser(ctx, event)
	case EventUserDeleted:
		return s.deleteUser(ctx, event)
	default:
		slog.Warn("unhandled webhook type", slog.String("type", event.Type))
		s.recordEvent(event.Type, "unhandled")
		return &WebhookResult{
			Success: true,
			Message: fmt.Sprintf("Webhook type '%s' received but not processed", event.Type),
		}, nil
	}
}

// parseUserData はイベントのdataペイロードをデコードする。
func parseUserData(event *WebhookEvent) (*userEventData, error) {
	var data userEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s data: %w", event.Type, err)
	}
	if data.ID == "" {
		return nil, fmt.Errorf("%s data has no user id", event.Type)
	}
	return &data, nil
}

// createUser はuser.createdイベントを処理する。
// 非削除行が既に存在する場合は成功として既存行をそのまま返す
// （配信はexactly-onceが保証されないため）。
func (s *Service) createUser(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	data, err := parseUserData(event)
	if err != nil {
		return nil, err
	}

	// 論理削除済みの行も重複とみなす。Clerkはユーザーidを再利用しないため、
	// 同一clerk_idの再作成は重複配信としてしか発生しない。
	existing, err := s.repo.FindByClerkID(ctx, data.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Info("user already exists",
			slog.String("clerk_id", data.ID),
			slog.String("user_id", existing.ID),
		)
		s.recordEvent(event.Type, "duplicate")
		return &WebhookResult{
			Success: true,
			Message: "User already exists",
			User:    newUserView(existing),
		}, nil
	}

	email, ok := resolvePrimaryEmail(data)
	if !ok {
		apiErr := model.NewNoEmailAvailableError(data.ID)
		slog.Error("failed to create user from webhook",
			slog.String("clerk_id", data.ID),
			slog.String("error", apiErr.Error()),
		)
		s.recordEvent(event.Type, "no_email")
		return &WebhookResult{
			Success: false,
			Message: "No email address found for user",
		}, nil
	}

	newUser := &model.User{
		ID:        uuid.New().String(),
		ClerkID:   data.ID,
		Email:     email,
		CreatedAt: time.Now(),
	}

	if err := s.repo.Create(ctx, newUser); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserAlreadyExists {
			// 同一clerk_idの並行配信に競り負けた。勝った側の行を返す。
			existing, findErr := s.repo.FindByClerkID(ctx, data.ID)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				s.recordEvent(event.Type, "duplicate")
				return &WebhookResult{
					Success: true,
					Message: "User already exists",
					User:    newUserView(existing),
				}, nil
			}
		}
		return nil, err
	}

	slog.Info("user created from webhook",
		slog.String("user_id", newUser.ID),
		slog.String("clerk_id", newUser.ClerkID),
		slog.String("email", newUser.Email),
	)
	s.recordEvent(event.Type, "applied")

	return &WebhookResult{
		Success: true,
		Message: "User created successfully",
		User:    newUserView(newUser),
	}, nil
}

// updateUser はuser.updatedイベントを処理する。
// 変更されたフィールド（現状はemail）のみを更新する。
// 論理削除済みの行への更新は無視する: 削除はより強いシグナルであり、
// 順序逆転で届いた古い更新が削除を取り消してはならない。
func (s *Service) updateUser(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	data, err := parseUserData(event)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByClerkID(ctx, data.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		slog.Warn("user not found for update", slog.String("clerk_id", data.ID))
		s.recordEvent(event.Type, "not_found")
		return &WebhookResult{
			Success: false,
			Message: "User not found",
		}, nil
	}
	if existing.IsDeleted() {
		slog.Info("update ignored for deleted user",
			slog.String("clerk_id", data.ID),
			slog.String("user_id", existing.ID),
		)
		s.recordEvent(event.Type, "noop")
		return &WebhookResult{
			Success: true,
			Message: "User is deleted; update ignored",
			User:    newUserView(existing),
		}, nil
	}

	email, ok := resolvePrimaryEmail(data)
	if !ok || email == existing.Email {
		slog.Info("no changes detected for user",
			slog.String("clerk_id", data.ID),
			slog.String("user_id", existing.ID),
		)
		s.recordEvent(event.Type, "noop")
		return &WebhookResult{
			Success: true,
			Message: "No changes detected",
			User:    newUserView(existing),
		}, nil
	}

	updated, err := s.repo.UpdateEmail(ctx, data.ID, email)
	if err != nil {
		return nil, err
	}

	slog.Info("user updated from webhook",
		slog.String("user_id", updated.ID),
		slog.String("clerk_id", updated.ClerkID),
		slog.String("email", updated.Email),
	)
	s.recordEvent(event.Type, "applied")

	return &WebhookResult{
		Success: true,
		Message: "User updated successfully",
		User:    newUserView(updated),
	}, nil
}

// deleteUser はuser.deletedイベントを処理する。
// 論理削除のみを行い、行は監査用に残す。物理削除は管理操作と
// 保持期間ワーカーだけが行い、Webhook経路からは到達しない。
func (s *Service) deleteUser(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	data, err := parseUserData(event)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByClerkID(ctx, data.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		slog.Warn("user not found for deletion", slog.String("clerk_id", data.ID))
		s.recordEvent(event.Type, "not_found")
		return &WebhookResult{
			Success: false,
			Message: "User not found",
		}, nil
	}
	if existing.IsDeleted() {
		slog.Info("user already deleted",
			slog.String("clerk_id", data.ID),
			slog.String("user_id", existing.ID),
		)
		s.recordEvent(event.Type, "noop")
		return &WebhookResult{
			Success: true,
			Message: "User already deleted",
			User:    newUserView(existing),
		}, nil
	}

	deleted, err := s.repo.SoftDelete(ctx, data.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user soft deleted from webhook",
		slog.String("user_id", deleted.ID),
		slog.String("clerk_id", deleted.ClerkID),
	)
	s.recordEvent(event.Type, "applied")

	return &WebhookResult{
		Success: true,
		Message: "User deleted successfully",
		User:    newUserView(deleted),
	}, nil
}

// resolvePrimaryEmail は候補リストからプライマリメールアドレスを選択する。
// primary_email_address_idと一致するエントリを優先し、一致がなければ
// 先頭の候補にフォールバックする。候補が空の場合はfalseを返す。
func resolvePrimaryEmail(data *userEventData) (string, bool) {
	if len(data.EmailAddresses) == 0 {
		return "", false
	}
	for _, e := range data.EmailAddresses {
		if e.ID == data.PrimaryEmailAddressID && e.EmailAddress != "" {
			return e.EmailAddress, true
		}
	}
	first := data.EmailAddresses[0]
	if first.EmailAddress == "" {
		return "", false
	}
	return first.EmailAddress, true
}

// ListActiveUsers は非削除ユーザーの一覧を作成日時の降順で返す。管理API用。
func (s *Service) ListActiveUsers(ctx context.Context) ([]*UserView, error) {
	users, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	views := make([]*UserView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}
	return views, nil
}

// HardDeleteUser は指定clerk_idの行を物理削除する。
// 管理操作専用。Webhook経路からは呼び出されない。
func (s *Service) HardDeleteUser(ctx context.Context, clerkID string) error {
	if err := s.repo.HardDelete(ctx, clerkID); err != nil {
		return err
	}

	slog.Info("user hard deleted", slog.String("clerk_id", clerkID))
	return nil
}
