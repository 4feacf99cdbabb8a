package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/storage"
	"github.com/bcnelson/storefront-gateway/internal/token"
	"github.com/bcnelson/storefront-gateway/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// displayPrefixLen is how many secret characters the key prefix keeps after
// the type prefix.
const displayPrefixLen = 8

// StorefrontKeyService issues, rotates and revokes storefront keys.
type StorefrontKeyService struct {
	store  storage.Storage
	logger zerolog.Logger
	now    func() time.Time
}

// NewStorefrontKeyService creates a new StorefrontKeyService.
func NewStorefrontKeyService(store storage.Storage, logger zerolog.Logger) *StorefrontKeyService {
	return &StorefrontKeyService{
		store:  store,
		logger: logger.With().Str("component", "storefront_keys").Logger(),
		now:    time.Now,
	}
}

// generateKey generates a new random key of the given type.
func generateKey(keyType domain.KeyType) (key, hash, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	typePrefix := validation.KeyPrefixFor(keyType)
	key = typePrefix + hex.EncodeToString(bytes)
	hash = token.HashKey(key)
	prefix = key[:len(typePrefix)+displayPrefixLen]

	return key, hash, prefix, nil
}

// Issue creates a new key. The secret is only returned here.
func (s *StorefrontKeyService) Issue(ctx context.Context, req *domain.CreateStorefrontKeyRequest) (*domain.CreateStorefrontKeyResponse, error) {
	now := s.now().UTC()
	if err := validation.ValidateCreateStorefrontKey(req, now).Err(); err != nil {
		return nil, err
	}

	keyType := req.KeyType
	if keyType == "" {
		keyType = domain.KeyTypeShop
	}

	record := &domain.StorefrontKey{
		ID:         uuid.NewString(),
		Name:       req.Name,
		KeyType:    keyType,
		IsActive:   true,
		RateLimit:  req.RateLimit,
		AllowedIPs: req.AllowedIPs,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.create(ctx, s.store, record)
}

func (s *StorefrontKeyService) create(ctx context.Context, store storage.Storage, record *domain.StorefrontKey) (*domain.CreateStorefrontKeyResponse, error) {
	key, hash, prefix, err := generateKey(record.KeyType)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	record.KeyHash = hash
	record.KeyPrefix = prefix

	if err := store.CreateStorefrontKey(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("key_id", record.ID).
		Str("key_prefix", record.KeyPrefix).
		Str("key_type", string(record.KeyType)).
		Msg("issued storefront key")

	return &domain.CreateStorefrontKeyResponse{StorefrontKey: *record, Key: key}, nil
}

// List returns live keys, optionally filtered by type.
func (s *StorefrontKeyService) List(ctx context.Context, keyType domain.KeyType) ([]*domain.StorefrontKey, error) {
	if keyType != "" && !keyType.Valid() {
		return nil, fmt.Errorf("%w: unknown key type %q", domain.ErrInvalidInput, keyType)
	}
	return s.store.ListStorefrontKeys(ctx, keyType)
}

// Get returns a live key by id.
func (s *StorefrontKeyService) Get(ctx context.Context, id string) (*domain.StorefrontKey, error) {
	return s.store.GetStorefrontKey(ctx, id)
}

// Rotate replaces key id with a new key of the same name and settings. The
// old key is deprecated now and expires after the grace period. Keys that are
// already deprecated cannot be rotated again.
func (s *StorefrontKeyService) Rotate(ctx context.Context, id string, req *domain.RotateStorefrontKeyRequest) (*domain.CreateStorefrontKeyResponse, error) {
	grace, err := validation.ParseGracePeriod(req.GracePeriod)
	if err != nil {
		return nil, validation.Invalid("grace_period", req.GracePeriod, err.Error())
	}

	var resp *domain.CreateStorefrontKeyResponse
	err = storage.WithTx(ctx, s.store, func(tx storage.Storage) error {
		old, err := tx.GetStorefrontKey(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if old.IsDeprecated(now) {
			return fmt.Errorf("%w: key %s has already been rotated", domain.ErrConflict, old.ID)
		}

		originalName := old.Name
		originalExpiry := old.ExpiresAt
		graceEnd := now.Add(grace)

		old.Name = fmt.Sprintf("%s (rotated %s)", originalName, old.ID[:8])
		old.DeprecationDate = &now
		if old.ExpiresAt == nil || old.ExpiresAt.After(graceEnd) {
			old.ExpiresAt = &graceEnd
		}
		old.UpdatedAt = now
		if err := tx.UpdateStorefrontKey(ctx, old); err != nil {
			return fmt.Errorf("failed to deprecate key: %w", err)
		}

		predecessor := old.ID
		resp, err = s.create(ctx, tx, &domain.StorefrontKey{
			ID:            uuid.NewString(),
			Name:          originalName,
			KeyType:       old.KeyType,
			IsActive:      true,
			RateLimit:     old.RateLimit,
			AllowedIPs:    old.AllowedIPs,
			ExpiresAt:     originalExpiry,
			RotatedFromID: &predecessor,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("key_id", resp.ID).
		Str("rotated_from_id", id).
		Dur("grace_period", grace).
		Msg("rotated storefront key")
	return resp, nil
}

// Revoke soft-deletes a key. It stops validating immediately.
func (s *StorefrontKeyService) Revoke(ctx context.Context, id string) error {
	if err := s.store.SoftDeleteStorefrontKey(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("key_id", id).Msg("revoked storefront key")
	return nil
}

// Chain returns key id followed by its live predecessors, newest first.
// Walking stops at a key with no predecessor or a revoked one.
func (s *StorefrontKeyService) Chain(ctx context.Context, id string) ([]*domain.StorefrontKey, error) {
	current, err := s.store.GetStorefrontKey(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []*domain.StorefrontKey{current}
	visited := map[string]bool{current.ID: true}
	for current.RotatedFromID != nil {
		prevID := *current.RotatedFromID
		if visited[prevID] {
			s.logger.Error().Str("key_id", id).Str("repeated_id", prevID).Msg("rotation chain contains a cycle")
			return nil, fmt.Errorf("%w: key %s repeats in chain of %s", domain.ErrRotationCycle, prevID, id)
		}
		visited[prevID] = true

		prev, err := s.store.GetStorefrontKey(ctx, prevID)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, prev)
		current = prev
	}
	return chain, nil
}

// CountAdminKeys reports how many live admin keys exist.
func (s *StorefrontKeyService) CountAdminKeys(ctx context.Context) (int, error) {
	return s.store.CountStorefrontKeys(ctx, domain.KeyTypeAdmin)
}
