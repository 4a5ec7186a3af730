// Package auth はBearerトークンの検証と検証鍵の解決を提供する。
//
// 信頼モードは2つあり、起動時の設定で1回だけ選択される。
// リクエストごとに検証経路が切り替わることはなく、トークン側の
// アルゴリズム指定が検証鍵の選択に影響することもない（confused deputy対策）。
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/clerksync/internal/model"
)

// TokenVerifier はBearerトークン文字列を検証し、subject（Clerk側の
// ユーザーID）を返すインターフェース。失敗はすべて*model.APIError。
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (clerkID string, err error)
}

// RS256Verifier はJWKS由来のRSA公開鍵でトークンを検証する（本番モード）。
type RS256Verifier struct {
	resolver KeyResolver
}

// NewRS256Verifier はRS256Verifierを生成する。
func NewRS256Verifier(resolver KeyResolver) *RS256Verifier {
	return &RS256Verifier{resolver: resolver}
}

// Verify はトークンを検証し、subクレームを返す。
func (v *RS256Verifier) Verify(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		// アルゴリズムファミリーはモードで固定する。
		// トークンのalgヘッダーは鍵選択には使わず、ファミリー内の確認のみ。
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, model.NewAlgorithmMismatchError(t.Method.Alg())
		}

		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, model.NewKeyUnavailableError("kidヘッダーがありません")
		}

		return v.resolver.Key(ctx, kid)
	}, jwt.WithExpirationRequired())

	if err != nil {
		return "", mapParseError(err)
	}

	return extractSubject(token)
}

// HS256Verifier は事前共有シークレットでトークンを検証する（開発モード）。
// シークレット未設定は起動時に設定検証で弾かれるため、ここでは扱わない。
type HS256Verifier struct {
	secret []byte
}

// NewHS256Verifier はHS256Verifierを生成する。
func NewHS256Verifier(secret []byte) *HS256Verifier {
	return &HS256Verifier{secret: secret}
}

// Verify はトークンを検証し、subクレームを返す。
// 鍵解決はネットワークを伴わない定数時間のルックアップ。
func (v *HS256Verifier) Verify(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, model.NewAlgorithmMismatchError(t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		return "", mapParseError(err)
	}

	return extractSubject(token)
}

// mapParseError はgolang-jwtのパースエラーをAPIErrorの分類に変換する。
// keyfuncが返したAPIError（AlgorithmMismatch、KeyUnavailable）は
// ラップを解いてそのまま伝播する。
func mapParseError(err error) error {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, jwt.ErrTokenMalformed):
		return model.NewMalformedTokenError()
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return model.NewTokenExpiredError()
	default:
		return model.NewSignatureInvalidError()
	}
}

// extractSubject は検証済みトークンからsubクレームを取り出す。
func extractSubject(token *jwt.Token) (string, error) {
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", model.NewMissingSubjectError()
	}
	return sub, nil
}

// compile-time interface checks
var (
	_ TokenVerifier = (*RS256Verifier)(nil)
	_ TokenVerifier = (*HS256Verifier)(nil)
)
