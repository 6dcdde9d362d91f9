package stores

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registration is a sign-up waiting for its contacts to be verified.
type Registration struct {
	ChallengeID string
	SessionID   string
	GLID        string
	Name        string
	Location    string
	Email       string
	Mobile      string
	DialCode    string
	CountryCode string
	Language    string
}

// RegistrationStore keeps pending registrations keyed by challenge guid.
type RegistrationStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRegistrationStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RegistrationStore {
	if prefix == "" {
		prefix = "gr"
	}
	return &RegistrationStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *RegistrationStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save stores reg, replacing any previous payload for the same challenge.
func (s *RegistrationStore) Save(ctx context.Context, reg *Registration) error {
	key := s.key(reg.ChallengeID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"session_id", reg.SessionID,
			"glid", reg.GLID,
			"name", reg.Name,
			"location", reg.Location,
			"email", reg.Email,
			"mobile", reg.Mobile,
			"dial_code", reg.DialCode,
			"country_code", reg.CountryCode,
			"language", reg.Language,
		)
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return backendErr("registration", "save", err)
	}
	return nil
}

// Get loads the pending registration of a challenge.
func (s *RegistrationStore) Get(ctx context.Context, challengeID string) (*Registration, error) {
	f, err := s.redis.HGetAll(ctx, s.key(challengeID)).Result()
	if err != nil {
		return nil, backendErr("registration", "get", err)
	}
	if len(f) == 0 {
		return nil, ErrRegistrationAbsent
	}
	return &Registration{
		ChallengeID: challengeID,
		SessionID:   f["session_id"],
		GLID:        f["glid"],
		Name:        f["name"],
		Location:    f["location"],
		Email:       f["email"],
		Mobile:      f["mobile"],
		DialCode:    f["dial_code"],
		CountryCode: f["country_code"],
		Language:    f["language"],
	}, nil
}

// Delete drops the pending registration once the account exists.
func (s *RegistrationStore) Delete(ctx context.Context, challengeID string) error {
	if err := s.redis.Del(ctx, s.key(challengeID)).Err(); err != nil {
		return backendErr("registration", "delete", err)
	}
	return nil
}
