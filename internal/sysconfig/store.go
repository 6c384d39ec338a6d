// Package sysconfig is the admin-managed key/value configuration store.
// Sensitive entries are masked in listings and, when an encryption key is
// configured, sealed at rest.
package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/crypto"
	"github.com/agentdesk/agentdesk/internal/db/models"
)

// Mask replaces sensitive values in listings.
const Mask = "••••••••"

// Well-known keys.
const (
	KeyOpenAIAPIKey             = "openai_api_key"
	KeyDefaultModel             = "default_model"
	KeyDefaultThreadExpiryHours = "default_thread_expiry_hours"
)

// sensitiveByDefault lists keys stored as sensitive when the caller does not say otherwise.
var sensitiveByDefault = map[string]bool{
	KeyOpenAIAPIKey: true,
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

// Repository is the persistence used by Store.
type Repository interface {
	GetConfig(ctx context.Context, key string) (*models.SystemConfig, error)
	UpsertConfig(ctx context.Context, key, value string, description *string, sensitive *bool) (*models.SystemConfig, error)
	DeleteConfig(ctx context.Context, key string) (bool, error)
	ListConfig(ctx context.Context) ([]*models.SystemConfig, error)
}

// Entry is the API view of one configuration value.
type Entry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	IsSensitive bool      `json:"is_sensitive"`
	Masked      bool      `json:"masked,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store wraps the repository with masking and optional sealing.
type Store struct {
	repo   Repository
	cipher *crypto.ValueCipher
}

// NewStore creates a Store. cipher may be nil, in which case values are stored in clear.
func NewStore(repo Repository, cipher *crypto.ValueCipher) *Store {
	return &Store{repo: repo, cipher: cipher}
}

// Get returns the entry for key with its clear value, or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	row, err := s.repo.GetConfig(ctx, key)
	if err != nil {
		return nil, apperr.Storage("get config", err)
	}
	if row == nil {
		return nil, fmt.Errorf("config %q: %w", key, apperr.ErrNotFound)
	}
	return s.entry(row, true)
}

// Value returns the clear value for key and whether it is set. Empty values count as unset.
func (s *Store) Value(ctx context.Context, key string) (string, bool, error) {
	e, err := s.Get(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Value, e.Value != "", nil
}

// Set upserts key. A nil description or sensitive flag keeps the stored one;
// for a new entry sensitivity defaults by key.
func (s *Store) Set(ctx context.Context, key, value string, description *string, sensitive *bool) (*Entry, error) {
	if !keyPattern.MatchString(key) {
		return nil, apperr.Invalid("key", "must be 1-128 lowercase letters, digits, '_', '.' or '-'")
	}

	isSensitive, err := s.resolveSensitive(ctx, key, sensitive)
	if err != nil {
		return nil, err
	}

	stored := value
	if isSensitive && s.cipher != nil {
		if stored, err = s.cipher.Seal(value); err != nil {
			return nil, fmt.Errorf("seal config value: %w: %v", apperr.ErrSecurity, err)
		}
	}

	row, err := s.repo.UpsertConfig(ctx, key, stored, description, &isSensitive)
	if err != nil {
		return nil, apperr.Storage("upsert config", err)
	}
	return s.entry(row, true)
}

func (s *Store) resolveSensitive(ctx context.Context, key string, sensitive *bool) (bool, error) {
	if sensitive != nil {
		return *sensitive, nil
	}
	existing, err := s.repo.GetConfig(ctx, key)
	if err != nil {
		return false, apperr.Storage("get config", err)
	}
	if existing != nil {
		return existing.IsSensitive, nil
	}
	return sensitiveByDefault[key], nil
}

// Delete removes key, or returns apperr.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	ok, err := s.repo.DeleteConfig(ctx, key)
	if err != nil {
		return apperr.Storage("delete config", err)
	}
	if !ok {
		return fmt.Errorf("config %q: %w", key, apperr.ErrNotFound)
	}
	return nil
}

// List returns all entries ordered by key. Sensitive values are masked unless reveal is set.
func (s *Store) List(ctx context.Context, reveal bool) ([]Entry, error) {
	rows, err := s.repo.ListConfig(ctx)
	if err != nil {
		return nil, apperr.Storage("list config", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := s.entry(row, reveal)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// entry converts a row, opening sealed values only when reveal is set.
func (s *Store) entry(row *models.SystemConfig, reveal bool) (*Entry, error) {
	e := &Entry{
		Key:         row.Key,
		Value:       row.Value,
		Description: row.Description.String,
		IsSensitive: row.IsSensitive,
		UpdatedAt:   row.UpdatedAt,
	}
	if !row.IsSensitive {
		return e, nil
	}
	if !reveal {
		e.Value = Mask
		e.Masked = true
		return e, nil
	}
	if crypto.IsSealed(row.Value) {
		if s.cipher == nil {
			return nil, fmt.Errorf("config %q is sealed but no encryption key is configured: %w", row.Key, apperr.ErrSecurity)
		}
		plain, err := s.cipher.Open(row.Value)
		if err != nil {
			return nil, fmt.Errorf("open config %q: %w: %v", row.Key, apperr.ErrSecurity, err)
		}
		e.Value = plain
	}
	return e, nil
}
