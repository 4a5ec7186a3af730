package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hitoshi/clerksync/internal/model"
)

// KeyResolver はkidから検証鍵を解決するインターフェース。
// 非対称モードではJWKSエンドポイントからの取得、テストではフェイクに差し替える。
type KeyResolver interface {
	// Key は指定kidのRSA公開鍵を返す。
	// 取得失敗・未知のkid・フェッチ予算超過はmodel.ErrCodeKeyUnavailableの
	// APIErrorとして返す。
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// FetchRecorder はJWKSフェッチの結果を記録するインターフェース。
// metrics.Collectorの部分集合として定義する。
type FetchRecorder interface {
	RecordJWKSFetch(success bool)
}

// maxJWKSResponseSize はJWKSレスポンスの最大サイズ（1MB）。
// リソース枯渇攻撃への対策。
const maxJWKSResponseSize = 1 << 20

// JWKSResolverConfig はJWKSResolverの設定。
type JWKSResolverConfig struct {
	// URL はJWKSエンドポイント。
	URL string
	// FetchPerMinute は上流フェッチの1分あたりの上限。
	// 鍵ローテーションの集中時に上流を叩きすぎないための予算。
	FetchPerMinute int
	// FetchTimeout は上流フェッチのタイムアウト。
	FetchTimeout time.Duration
	// Client はフェッチに使用するHTTPクライアント。
	// security.EgressGuardServiceのNewSafeClientで生成したものを渡す。
	Client *http.Client
	// Metrics はフェッチ結果の記録先。nilの場合は記録しない。
	Metrics FetchRecorder
}

// JWKSResolver はJWKSエンドポイントから取得したRSA公開鍵をkid単位で
// キャッシュするKeyResolver。キャッシュにTTLはなく、未知のkidに
// 遭遇したときだけ遅延リフレッシュする。
//
// 同一kidへの並行ミスはsingleflightで1回の上流フェッチに集約され、
// 全員が同じ結果を受け取る。上流フェッチはrate.Limiterの予算内で
// のみ実行され、予算超過時は待たずにKeyUnavailableで即座に失敗する。
type JWKSResolver struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	metrics FetchRecorder

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	group singleflight.Group
}

// NewJWKSResolver はJWKSResolverを生成する。
func NewJWKSResolver(cfg JWKSResolverConfig) *JWKSResolver {
	perMinute := cfg.FetchPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &JWKSResolver{
		url:     cfg.URL,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		metrics: cfg.Metrics,
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// Key は指定kidのRSA公開鍵を返す。
// キャッシュミス時は同一kidの並行呼び出しを1回の上流フェッチに集約する。
func (r *JWKSResolver) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := r.cachedKey(kid); ok {
		return key, nil
	}

	v, err, _ := r.group.Do(kid, func() (interface{}, error) {
		// singleflight待機中に先行フェッチがキャッシュを埋めた場合
		if key, ok := r.cachedKey(kid); ok {
			return key, nil
		}

		// フェッチ予算の確認。待機せず即座に失敗する。
		if !r.limiter.Allow() {
			return nil, model.NewKeyUnavailableError("JWKSフェッチ予算を超過しました")
		}

		keys, err := r.fetchJWKS(ctx)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordJWKSFetch(false)
			}
			return nil, model.NewKeyUnavailableError(err.Error())
		}
		if r.metrics != nil {
			r.metrics.RecordJWKSFetch(true)
		}

		r.mu.Lock()
		for id, key := range keys {
			r.keys[id] = key
		}
		r.mu.Unlock()

		key, ok := keys[kid]
		if !ok {
			// 未知のkidはキャッシュしない（次回配信時に再フェッチ）
			return nil, model.NewKeyUnavailableError(fmt.Sprintf("未知のkey identifier: %s", kid))
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*rsa.PublicKey), nil
}

// cachedKey はキャッシュからkidの鍵を取得する。
func (r *JWKSResolver) cachedKey(kid string) (*rsa.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[kid]
	return key, ok
}

// jwksResponse はJWKSエンドポイントのレスポンス構造。
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey はJWKSレスポンス内の1つの鍵。RSA鍵の再構築に必要な
// フィールドのみを含む。
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchJWKS はJWKSエンドポイントにGETリクエストを送り、
// kid→RSA公開鍵のマップを構築する。
func (r *JWKSResolver) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" || k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pubKey
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no usable RSA keys in JWKS response")
	}

	return keys, nil
}

// parseRSAPublicKey はbase64url形式のmodulus(n)とexponent(e)から
// RSA公開鍵を再構築する。
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	eInt := 0
	for _, b := range eBytes {
		eInt = eInt<<8 | int(b)
	}
	if eInt <= 0 {
		return nil, fmt.Errorf("non-positive exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: eInt,
	}, nil
}
