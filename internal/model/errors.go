// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。トークン検証系のエラーは
// HTTP境界では詳細を返さず、ログにのみ記録される。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, webhook, validation, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	// トークン検証
	ErrCodeMalformedToken    = "MALFORMED_TOKEN"
	ErrCodeAlgorithmMismatch = "ALGORITHM_MISMATCH"
	ErrCodeKeyUnavailable    = "KEY_UNAVAILABLE"
	ErrCodeSignatureInvalid  = "SIGNATURE_INVALID"
	ErrCodeTokenExpired      = "TOKEN_EXPIRED"
	ErrCodeMissingSubject    = "MISSING_SUBJECT"

	// ユーザーディレクトリ
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeUserAlreadyExists = "USER_ALREADY_EXISTS"
	ErrCodeNoEmailAvailable  = "NO_EMAIL_AVAILABLE"
)

// NewMalformedTokenError はトークンの構造が解析できない場合のエラーを生成する。
func NewMalformedTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedToken,
		Message:  "トークンをheader/claims/signatureに分解できません。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しいBearerトークンを指定してください。",
	}
}

// NewAlgorithmMismatchError は署名アルゴリズムが稼働モードの期待と
// 一致しない場合のエラーを生成する。
func NewAlgorithmMismatchError(alg string) *APIError {
	return &APIError{
		Code:     ErrCodeAlgorithmMismatch,
		Message:  fmt.Sprintf("署名アルゴリズムが稼働モードと一致しません: %s", alg),
		Category: "auth",
		Action:   "稼働モードに対応したアルゴリズムで署名されたトークンを使用してください。",
	}
}

// NewKeyUnavailableError は検証鍵を解決できない場合のエラーを生成する。
func NewKeyUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeKeyUnavailable,
		Message:  fmt.Sprintf("検証鍵を取得できません: %s", reason),
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSignatureInvalidError は署名検証に失敗した場合のエラーを生成する。
func NewSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "トークンの署名検証に失敗しました。",
		Category: "auth",
		Action:   "有効なトークンを取得し直してください。",
	}
}

// NewTokenExpiredError はトークンが有効期間外の場合のエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "トークンを再発行してください。",
	}
}

// NewMissingSubjectError はsubクレームが欠落している場合のエラーを生成する。
func NewMissingSubjectError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingSubject,
		Message:  "トークンにsubjectクレームが含まれていません。",
		Category: "auth",
		Action:   "IDプロバイダーが発行したトークンを使用してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(clerkID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", clerkID),
		Category: "webhook",
		Action:   "clerk_idを確認してください。",
	}
}

// NewUserAlreadyExistsError は非削除ユーザーが既に存在する場合のエラーを生成する。
// Webhook同期処理ではこのエラーは成功として回復される。
func NewUserAlreadyExistsError(clerkID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  fmt.Sprintf("ユーザーは既に存在します: %s", clerkID),
		Category: "webhook",
		Action:   "重複配信の場合は既存レコードをそのまま使用してください。",
	}
}

// NewNoEmailAvailableError はWebhookペイロードに使用可能なメールアドレスが
// 含まれない場合のエラーを生成する。user.createdのみを中断する。
func NewNoEmailAvailableError(clerkID string) *APIError {
	return &APIError{
		Code:     ErrCodeNoEmailAvailable,
		Message:  fmt.Sprintf("メールアドレスを解決できません: %s", clerkID),
		Category: "webhook",
		Action:   "IDプロバイダー側のアカウントにメールアドレスが登録されているか確認してください。",
	}
}
