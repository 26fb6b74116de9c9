package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// Store holds WebAuthn ceremony state between the begin and finish calls.
// Entries expire after ttl and are single use.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store { return &Store{rdb: rdb, ttl: ttl} }

func regKey(userID uint) string { return fmt.Sprintf("webauthn:reg:%d", userID) }
func authKey(sid string) string { return fmt.Sprintf("webauthn:auth:%s", sid) }

// SaveReg stores the registration ceremony of a logged-in user adding a passkey.
func (s *Store) SaveReg(ctx context.Context, userID uint, sd *webauthn.SessionData) error {
	return s.save(ctx, regKey(userID), sd)
}

// TakeReg returns and removes the pending registration ceremony.
func (s *Store) TakeReg(ctx context.Context, userID uint) (*webauthn.SessionData, error) {
	return s.take(ctx, regKey(userID))
}

func (s *Store) SaveAuth(ctx context.Context, sid string, sd *webauthn.SessionData) error {
	return s.save(ctx, authKey(sid), sd)
}

func (s *Store) TakeAuth(ctx context.Context, sid string) (*webauthn.SessionData, error) {
	return s.take(ctx, authKey(sid))
}

func (s *Store) save(ctx context.Context, k string, sd *webauthn.SessionData) error {
	b, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, k, b, s.ttl).Err()
}

func (s *Store) take(ctx context.Context, k string) (*webauthn.SessionData, error) {
	b, err := s.rdb.GetDel(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}
