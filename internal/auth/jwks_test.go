package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/clerksync/internal/model"
)

// --- ヘルパー ---

// jwksDocument はテスト用JWKSレスポンスを構築する。
func jwksDocument(t *testing.T, keys map[string]*rsa.PublicKey) []byte {
	t.Helper()
	doc := jwksResponse{}
	for kid, key := range keys {
		doc.Keys = append(doc.Keys, jwkKey{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal JWKS document: %v", err)
	}
	return body
}

type fetchCounter struct {
	count atomic.Int64
}

// --- テスト ---

// TestJWKSResolver_Key はJWKSエンドポイントから取得した鍵が
// 正しく再構築されることを検証する。
func TestJWKSResolver_Key(t *testing.T) {
	key := generateRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 10,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	got, err := resolver.Key(context.Background(), "kid-1")
	if err != nil {
		t.Fatalf("Key returned error: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Error("reconstructed key does not match original")
	}
}

// TestJWKSResolver_CacheHit は2回目以降の同一kidが上流フェッチなしで
// 解決されることを検証する。
func TestJWKSResolver_CacheHit(t *testing.T) {
	key := generateRSAKey(t)
	var counter fetchCounter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.count.Add(1)
		w.Write(jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 10,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	for i := 0; i < 3; i++ {
		if _, err := resolver.Key(context.Background(), "kid-1"); err != nil {
			t.Fatalf("Key returned error on call %d: %v", i, err)
		}
	}

	if n := counter.count.Load(); n != 1 {
		t.Errorf("upstream fetch count = %d, want 1", n)
	}
}

// TestJWKSResolver_SingleFlight は同一kidへの並行キャッシュミスが
// 1回の上流フェッチに集約されることを検証する。
func TestJWKSResolver_SingleFlight(t *testing.T) {
	key := generateRSAKey(t)
	var counter fetchCounter
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.count.Add(1)
		<-release
		w.Write(jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 100,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	const concurrency = 10
	var wg sync.WaitGroup
	errs := make([]error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = resolver.Key(context.Background(), "kid-1")
		}(i)
	}

	// 全goroutineがsingleflightに合流するのを待ってからレスポンスを返す
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: Key returned error: %v", i, err)
		}
	}
	if n := counter.count.Load(); n != 1 {
		t.Errorf("upstream fetch count = %d, want 1", n)
	}
}

// TestJWKSResolver_UnknownKid は取得した鍵セットに含まれないkidが
// KEY_UNAVAILABLEになり、キャッシュされないことを検証する。
func TestJWKSResolver_UnknownKid(t *testing.T) {
	key := generateRSAKey(t)
	var counter fetchCounter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.count.Add(1)
		w.Write(jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 10,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	_, err := resolver.Key(context.Background(), "kid-unknown")
	var apiErr *model.APIError
	if err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeKeyUnavailable {
		t.Fatalf("expected KEY_UNAVAILABLE, got %v", err)
	}

	// 未知のkidはネガティブキャッシュされず、次回も上流を確認する
	_, _ = resolver.Key(context.Background(), "kid-unknown")
	if n := counter.count.Load(); n != 2 {
		t.Errorf("upstream fetch count = %d, want 2", n)
	}
}

// TestJWKSResolver_KeyRotation は鍵ローテーション後の新kidが
// 遅延リフレッシュで解決されることを検証する。
func TestJWKSResolver_KeyRotation(t *testing.T) {
	key1 := generateRSAKey(t)
	key2 := generateRSAKey(t)

	var mu sync.Mutex
	served := map[string]*rsa.PublicKey{"kid-1": &key1.PublicKey}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Write(jwksDocument(t, served))
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 10,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	if _, err := resolver.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("Key(kid-1) returned error: %v", err)
	}

	// ローテーション: 上流に新しい鍵が追加される
	mu.Lock()
	served["kid-2"] = &key2.PublicKey
	mu.Unlock()

	got, err := resolver.Key(context.Background(), "kid-2")
	if err != nil {
		t.Fatalf("Key(kid-2) returned error: %v", err)
	}
	if got.N.Cmp(key2.PublicKey.N) != 0 {
		t.Error("resolved key does not match rotated key")
	}

	// 旧kidはキャッシュから引き続き解決できる
	if _, err := resolver.Key(context.Background(), "kid-1"); err != nil {
		t.Errorf("Key(kid-1) after rotation returned error: %v", err)
	}
}

// TestJWKSResolver_FetchBudget はフェッチ予算の超過時に待機せず
// 即座にKEY_UNAVAILABLEで失敗することを検証する。
func TestJWKSResolver_FetchBudget(t *testing.T) {
	key := generateRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer srv.Close()

	// 予算1回/分: 最初の未知kidで消費し、2回目は即座に失敗する
	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 1,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	if _, err := resolver.Key(context.Background(), "kid-unknown-a"); err == nil {
		t.Fatal("expected error for unknown kid")
	}

	start := time.Now()
	_, err := resolver.Key(context.Background(), "kid-unknown-b")
	elapsed := time.Since(start)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeKeyUnavailable {
		t.Fatalf("expected KEY_UNAVAILABLE, got %v", err)
	}
	// 補充を待たずに失敗すること
	if elapsed > time.Second {
		t.Errorf("budget rejection took %v, expected fail-fast", elapsed)
	}
}

// TestJWKSResolver_UpstreamError は上流の5xxがKEY_UNAVAILABLEに
// 変換されることを検証する。
func TestJWKSResolver_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := NewJWKSResolver(JWKSResolverConfig{
		URL:            srv.URL,
		FetchPerMinute: 10,
		FetchTimeout:   5 * time.Second,
		Client:         srv.Client(),
	})

	_, err := resolver.Key(context.Background(), "kid-1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeKeyUnavailable {
		t.Fatalf("expected KEY_UNAVAILABLE, got %v", err)
	}
}
