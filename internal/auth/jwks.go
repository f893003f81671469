package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var errKeyNotFound = errors.New("signing key not found in JWKS")

// keySet caches the RSA signing keys of one JWKS endpoint. Concurrent refreshes share a
// single request.
type keySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	logger     *zap.Logger
	refreshes  singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func newKeySet(url string, httpClient *http.Client, ttl time.Duration, logger *zap.Logger) *keySet {
	return &keySet{url: url, httpClient: httpClient, ttl: ttl, logger: logger}
}

func (s *keySet) lookup(ctx context.Context, keyID string, now time.Time) (*rsa.PublicKey, error) {
	if key := s.cached(keyID, now); key != nil {
		return key, nil
	}
	if _, err, _ := s.refreshes.Do(s.url, func() (any, error) {
		return nil, s.refresh(ctx, now)
	}); err != nil {
		return nil, err
	}
	if key := s.cached(keyID, now); key != nil {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (s *keySet) cached(keyID string, now time.Time) *rsa.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil || now.After(s.expiresAt) {
		return nil
	}
	return s.keys[keyID]
}

func (s *keySet) refresh(ctx context.Context, fetchedAt time.Time) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	response, err := s.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := key.publicKey()
		if err != nil {
			s.logger.Debug("skipping jwk", zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		keys[key.KeyID] = publicKey
	}
	if len(keys) == 0 {
		return errors.New("jwks document contained no usable keys")
	}

	s.mu.Lock()
	s.keys = keys
	s.expiresAt = fetchedAt.Add(s.ttl)
	s.mu.Unlock()
	return nil
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	exponent := new(big.Int).SetBytes(exponentBytes)
	if exponent.Sign() == 0 || !exponent.IsInt64() || exponent.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent value")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(exponent.Int64())}, nil
}
