package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clerksync/internal/model"
	"github.com/hitoshi/clerksync/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// ListActiveUsers は非削除ユーザーの一覧を返す。
	ListActiveUsers(ctx context.Context) ([]*user.UserView, error)
	// HardDeleteUser は指定clerk_idの行を物理削除する。
	HardDeleteUser(ctx context.Context, clerkID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// listUsersResponse はユーザー一覧のAPIレスポンス。
type listUsersResponse struct {
	Users []*user.UserView `json:"users"`
}

// ListUsers は非削除ユーザーの一覧を作成日時の降順で返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListActiveUsers(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listUsersResponse{Users: users})
}

// DeleteUser は指定clerk_idのユーザーを物理削除する。
// DELETE /api/users/:clerkID
//
// 論理削除と異なり行そのものを消す管理操作。Webhook経路からは到達しない。
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	clerkID := chi.URLParam(r, "clerkID")
	if clerkID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "clerk_idが指定されていません。",
			Category: "validation",
			Action:   "削除対象のclerk_idをパスに指定してください。",
		})
		return
	}

	if err := h.service.HardDeleteUser(r.Context(), clerkID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
