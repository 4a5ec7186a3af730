// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/clerksync/internal/middleware"
	"github.com/hitoshi/clerksync/internal/model"
	"github.com/hitoshi/clerksync/internal/user"
)

// WebhookProcessor は認証ハンドラーが必要とするWebhook処理のインターフェース。
type WebhookProcessor interface {
	// ProcessWebhook はWebhookイベントをユーザーディレクトリに適用する。
	ProcessWebhook(ctx context.Context, event *user.WebhookEvent) (*user.WebhookResult, error)
}

// AuthHandler は認証・ユーザー同期のHTTPハンドラー。
type AuthHandler struct {
	service WebhookProcessor
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service WebhookProcessor) *AuthHandler {
	return &AuthHandler{service: service}
}

// webhookResponse はWebhookエンドポイントのレスポンス。
// HTTPステータスは配信の受理/不受理のみを表し、業務的な結果はresultに載せる。
type webhookResponse struct {
	Success bool                `json:"success"`
	Result  *user.WebhookResult `json:"result"`
}

// meResponse はGET /api/auth/meのレスポンス。
type meResponse struct {
	User principalView `json:"user"`
}

// principalView は認証済みユーザーのAPI表現。
type principalView struct {
	ID      string `json:"id"`
	ClerkID string `json:"clerk_id"`
	Email   string `json:"email"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Webhook はClerkからのユーザーライフサイクルWebhookを処理する。
// POST /api/auth/clerk/webhook
//
// 前提条件違反（対象ユーザー不在等）はHTTP 200のresult.successで表現する。
// 非2xxはClerk側のリトライを誘発するため、5xxは内部エラーのみに限定する。
func (h *AuthHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var event user.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if event.Type == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "Webhookイベントにtypeがありません。",
			Category: "validation",
			Action:   "Clerkからの正規の配信か確認してください。",
		})
		return
	}

	result, err := h.service.ProcessWebhook(r.Context(), &event)
	if err != nil {
		slog.Error("webhook processing failed",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhookResponse{
		Success: true,
		Result:  result,
	})
}

// Me は認証済みユーザー自身の情報を返す。
// GET /api/auth/me
//
// ミドルウェアで解決済みのPrincipalをそのまま返すため、追加のDBアクセスはない。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "有効なトークンを付与してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		User: principalView{
			ID:      principal.ID,
			ClerkID: principal.ClerkID,
			Email:   principal.Email,
		},
	})
}

// --- ヘルパー関数 ---

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeUserAlreadyExists:
		return http.StatusConflict
	case model.ErrCodeNoEmailAvailable:
		return http.StatusUnprocessableEntity
	case model.ErrCodeMalformedToken,
		model.ErrCodeAlgorithmMismatch,
		model.ErrCodeSignatureInvalid,
		model.ErrCodeTokenExpired,
		model.ErrCodeMissingSubject:
		return http.StatusUnauthorized
	case model.ErrCodeKeyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
