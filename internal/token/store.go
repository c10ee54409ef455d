package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExternalToken is a cached provider access token
type ExternalToken struct {
	Provider    string    `json:"provider" gorm:"primaryKey;type:varchar(64)"`
	AccessToken string    `json:"access_token" gorm:"type:text;not null"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ExternalToken) TableName() string {
	return "external_tokens"
}

// Store persists tokens between stateless invocations
type Store interface {
	Get(ctx context.Context, provider string) (*ExternalToken, error)
	Put(ctx context.Context, tok *ExternalToken) error
	Delete(ctx context.Context, provider string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, provider string) (*ExternalToken, error) {
	var tok ExternalToken
	err := s.db.WithContext(ctx).Where("provider = ?", provider).First(&tok).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tok, nil
}

func (s *gormStore) Put(ctx context.Context, tok *ExternalToken) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "expires_at", "updated_at"}),
	}).Create(tok).Error
}

func (s *gormStore) Delete(ctx context.Context, provider string) error {
	return s.db.WithContext(ctx).Where("provider = ?", provider).Delete(&ExternalToken{}).Error
}

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore keeps tokens in Redis with a TTL matching their expiry
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client, prefix: "supportdesk:token:"}
}

func (s *redisStore) Get(ctx context.Context, provider string) (*ExternalToken, error) {
	raw, err := s.client.Get(ctx, s.prefix+provider).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var tok ExternalToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &tok, nil
}

func (s *redisStore) Put(ctx context.Context, tok *ExternalToken) error {
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+tok.Provider, raw, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, provider string) error {
	return s.client.Del(ctx, s.prefix+provider).Err()
}
