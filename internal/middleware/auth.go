// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/clerksync/internal/auth"
	"github.com/hitoshi/clerksync/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// UserFinder は認証ルックアップに必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
// 認証用ビューのみを使用するため、論理削除済みユーザーは
// 有効なトークンを持っていてもここで弾かれる。
type UserFinder interface {
	FindActiveByClerkID(ctx context.Context, clerkID string) (*model.User, error)
}

// AuthRecorder は認証結果を記録するインターフェース。
// metrics.Collectorの部分集合として定義する。
type AuthRecorder interface {
	RecordAuthSuccess()
	RecordAuthFailure(reason string)
	RecordVerifyLatency(duration time.Duration)
}

// authErrorBody は認証失敗時のレスポンスボディ。
// 検証エラーの内部詳細はログにのみ記録し、クライアントには返さない。
type authErrorBody struct {
	Message string `json:"message"`
}

// NewAuthMiddleware はBearerトークンを検証し、解決したPrincipalを
// リクエストコンテキストに注入するミドルウェアを返す。
//
// リクエストごとの状態遷移: トークン抽出 → 検証 → ディレクトリ照会 →
// Principal付与または401。metricsはnilを許容する。
func NewAuthMiddleware(verifier auth.TokenVerifier, users UserFinder, metrics AuthRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. トークン抽出。ヘッダーを設定できないトランスポート
			//    （非fetchクライアントから開くストリーミング等）のために
			//    クエリパラメータへのフォールバックを許可する。
			token := extractToken(r)
			if token == "" {
				recordFailure(metrics, "no_token")
				writeAuthError(w, http.StatusUnauthorized, "No token provided")
				return
			}

			// 2. トークン検証。失敗理由はログのみに記録する。
			verifyStart := time.Now()
			clerkID, err := verifier.Verify(r.Context(), token)
			if metrics != nil {
				metrics.RecordVerifyLatency(time.Since(verifyStart))
			}
			if err != nil {
				slog.Warn("token verification failed",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("error", err.Error()),
				)
				recordFailure(metrics, failureReason(err))
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			// 3. ディレクトリ照会（認証用ビュー）。未登録と論理削除済みの
			//    どちらも同じ401で区別しない。
			user, err := users.FindActiveByClerkID(r.Context(), clerkID)
			if err != nil {
				slog.Error("failed to look up user",
					slog.String("clerk_id", clerkID),
					slog.String("error", err.Error()),
				)
				recordFailure(metrics, "lookup_error")
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if user == nil {
				slog.Warn("user not found or deleted", slog.String("clerk_id", clerkID))
				recordFailure(metrics, "user_not_found")
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			// 4. Principalをコンテキストに注入
			if metrics != nil {
				metrics.RecordAuthSuccess()
			}
			ctx := ContextWithPrincipal(r.Context(), model.NewPrincipal(user))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken はAuthorization: Bearerヘッダーまたは?token=クエリ
// パラメータからトークンを取り出す。ヘッダーを優先する。
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// writeAuthError は認証失敗のJSONレスポンスを書き込む。
func writeAuthError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(authErrorBody{Message: message})
}

// failureReason はAPIErrorのコードをメトリクスラベル用に取り出す。
func failureReason(err error) string {
	if apiErr, ok := err.(*model.APIError); ok {
		return apiErr.Code
	}
	return "unknown"
}

// recordFailure は認証失敗をメトリクスに記録する。
func recordFailure(metrics AuthRecorder, reason string) {
	if metrics != nil {
		metrics.RecordAuthFailure(reason)
	}
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
