package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"billing-service/internal/config"
	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

// Argon2id parameters for API key hashing.
const (
	argonMemory      = 64 * 1024
	argonTime        = 3
	argonParallelism = 2
	argonSaltLength  = 16
	argonKeyLength   = 32

	apiKeyPrefix = "bk_"

	// Touch the last_used_at column at most this often per key.
	touchInterval = time.Minute

	// Verified keys are cached briefly to skip Argon2id and the DB lookup on
	// hot paths. A revoked key can therefore stay usable for up to this long.
	authCacheTTL = 30 * time.Second

	touchedSuffix = ":touched"
)

// BootstrapTenantID is the tenant provisioned from API_KEY_SECRET so a fresh
// deployment has a working key before any are issued.
const BootstrapTenantID = "default"

// ApiKeyService issues and verifies tenant API keys. Plaintext keys exist
// only in the issuance response; the table stores a SHA-256 lookup digest and
// an Argon2id hash.
type ApiKeyService struct {
	repo   repository.BillingRepositoryInterface
	config *config.Config
	cache  *gocache.Cache
}

// NewApiKeyService creates a new API key service
func NewApiKeyService(repo repository.BillingRepositoryInterface, cfg *config.Config) *ApiKeyService {
	return &ApiKeyService{
		repo:   repo,
		config: cfg,
		cache:  gocache.New(authCacheTTL, 2*authCacheTTL),
	}
}

// Authenticate resolves a plaintext API key to its key row. Unknown, inactive,
// and non-verifying keys all fail with the same unauthorized error.
func (s *ApiKeyService) Authenticate(ctx context.Context, plaintext string) (*models.ApiKey, error) {
	if plaintext == "" {
		return nil, ierr.NewError("missing api key").
			WithHint("X-API-Key header is required").
			Mark(ierr.ErrUnauthorized)
	}

	digest := lookupDigest(plaintext)
	if cached, ok := s.cache.Get(digest); ok {
		key := cached.(*models.ApiKey)
		s.touchThrottled(ctx, digest, key)
		return key, nil
	}

	key, err := s.repo.GetApiKeyByLookup(ctx, digest)
	if err != nil {
		return nil, err
	}
	if err := verifyArgon2id(plaintext, key.KeyHash); err != nil {
		return nil, ierr.NewError("api key verification failed").
			WithHint("Invalid API key").
			Mark(ierr.ErrUnauthorized)
	}

	s.cache.SetDefault(digest, key)
	s.touchThrottled(ctx, digest, key)
	return key, nil
}

// touchThrottled bumps last_used_at at most once per touchInterval. Cache hits
// share one key row, so the throttle marker lives in the cache rather than on
// the struct.
func (s *ApiKeyService) touchThrottled(ctx context.Context, digest string, key *models.ApiKey) {
	if _, ok := s.cache.Get(digest + touchedSuffix); ok {
		return
	}
	if key.LastUsedAt != nil && time.Since(*key.LastUsedAt) <= touchInterval {
		return
	}
	if err := s.repo.TouchApiKey(ctx, key.ID); err != nil {
		logrus.WithError(err).Debug("Failed to update API key usage timestamp")
		return
	}
	s.cache.Set(digest+touchedSuffix, struct{}{}, touchInterval)
}

// IssueKey mints a new API key for a tenant and returns the plaintext exactly
// once. A non-positive rate limit falls back to the configured default.
func (s *ApiKeyService) IssueKey(ctx context.Context, tenantID string, rateLimit int) (string, *models.ApiKey, error) {
	if tenantID == "" {
		return "", nil, ierr.NewError("missing tenant id").
			WithHint("Tenant ID is required to issue an API key").
			Mark(ierr.ErrValidation)
	}
	if rateLimit <= 0 {
		rateLimit = s.config.DefaultRateLimit
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, ierr.WithError(err).
			WithHint("Failed to generate API key material").
			Mark(ierr.ErrInternal)
	}
	plaintext := apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := hashArgon2id(plaintext)
	if err != nil {
		return "", nil, err
	}

	key := &models.ApiKey{
		TenantID:  tenantID,
		KeyLookup: lookupDigest(plaintext),
		KeyHash:   hash,
		RateLimit: rateLimit,
		IsActive:  true,
	}
	if err := s.repo.CreateApiKey(ctx, key); err != nil {
		return "", nil, err
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"api_key_id": key.ID,
		"rate_limit": rateLimit,
	}).Info("API key issued")
	return plaintext, key, nil
}

// Bootstrap provisions an API key for the default tenant from the configured
// secret, so a fresh database is reachable. Re-running against an existing
// key is a no-op.
func (s *ApiKeyService) Bootstrap(ctx context.Context) error {
	secret := s.config.APIKeySecret
	if secret == "" {
		return nil
	}

	if _, err := s.repo.GetApiKeyByLookup(ctx, lookupDigest(secret)); err == nil {
		return nil
	} else if !ierr.IsUnauthorized(err) {
		return err
	}

	hash, err := hashArgon2id(secret)
	if err != nil {
		return err
	}
	key := &models.ApiKey{
		TenantID:  BootstrapTenantID,
		KeyLookup: lookupDigest(secret),
		KeyHash:   hash,
		RateLimit: s.config.DefaultRateLimit,
		IsActive:  true,
	}
	if err := s.repo.CreateApiKey(ctx, key); err != nil {
		if ierr.IsConflict(err) {
			return nil
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id":  BootstrapTenantID,
		"api_key_id": key.ID,
	}).Info("Bootstrap API key provisioned")
	return nil
}

// lookupDigest is the indexable digest used to find a key row without storing
// the plaintext.
func lookupDigest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// hashArgon2id hashes the plaintext in the PHC string format.
func hashArgon2id(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to generate salt").
			Mark(ierr.ErrInternal)
	}
	hash := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonParallelism, argonKeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// verifyArgon2id checks the plaintext against a PHC-encoded hash in constant
// time.
func verifyArgon2id(plaintext, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return fmt.Errorf("malformed argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return fmt.Errorf("malformed argon2id version: %w", err)
	}
	if version != argon2.Version {
		return fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return fmt.Errorf("malformed argon2id parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("malformed argon2id salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("malformed argon2id digest: %w", err)
	}

	computed := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, uint32(len(expected)))
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return fmt.Errorf("api key mismatch")
	}
	return nil
}
