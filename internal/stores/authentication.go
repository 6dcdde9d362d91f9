package stores

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/glidauth/internal"
	"github.com/redis/go-redis/v9"
)

// Authentication statuses as stored in Redis.
const (
	StatusCreated            = 1
	StatusActivated          = 2
	StatusLoggedOut          = 3
	StatusSessionClosed      = 4
	StatusExpired            = 5
	StatusExpiredWithFailure = 6
)

// Authentication is the token-bearing record of one session.
type Authentication struct {
	ID           string
	SessionID    string
	AccessToken  string
	RefreshToken string
	Status       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// upsertScript returns the live (Created or Activated) authentication of a
// session, or inserts a fresh Created record and repoints the index. Ended
// records are left in place for audit.
const upsertScript = `
local current = redis.call("GET", KEYS[1])
if current then
  local status = tonumber(redis.call("HGET", ARGV[2] .. current, "status") or "0")
  if status == 1 or status == 2 then
    return current
  end
end
local key = ARGV[2] .. ARGV[1]
redis.call("HSET", key, "session_id", ARGV[3], "status", 1, "created", ARGV[4], "updated", ARGV[4])
redis.call("PEXPIRE", key, ARGV[5])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[5])
return ARGV[1]
`

var upsertLua = redis.NewScript(upsertScript)

// activateAuthScript stores a token pair on a Created or Activated record.
const activateAuthScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local status = tonumber(redis.call("HGET", KEYS[1], "status") or "0")
if status ~= 1 and status ~= 2 then
  return 2
end
local old = redis.call("HGET", KEYS[1], "access_digest")
if old and old ~= "" then
  redis.call("DEL", ARGV[5] .. old)
end
redis.call("HSET", KEYS[1], "status", 2, "access_token", ARGV[1], "refresh_token", ARGV[2], "access_digest", ARGV[3], "updated", ARGV[4])
redis.call("SET", ARGV[5] .. ARGV[3], ARGV[6], "PX", ARGV[7])
return 1
`

var activateAuthLua = redis.NewScript(activateAuthScript)

// rotateScript swaps the token pair only when the presented refresh token is
// the stored one, so concurrent refreshes have exactly one winner.
const rotateScript = `
local guid = redis.call("GET", KEYS[1])
if not guid then
  return {0}
end
local key = ARGV[7] .. guid
local status = tonumber(redis.call("HGET", key, "status") or "0")
if status ~= 2 then
  return {3}
end
if redis.call("HGET", key, "refresh_token") ~= ARGV[1] then
  return {2}
end
local old = redis.call("HGET", key, "access_digest")
if old and old ~= "" then
  redis.call("DEL", ARGV[5] .. old)
end
redis.call("HSET", key, "access_token", ARGV[2], "refresh_token", ARGV[3], "access_digest", ARGV[4], "updated", ARGV[6])
redis.call("SET", ARGV[5] .. ARGV[4], guid, "PX", ARGV[8])
return {1, guid}
`

var rotateLua = redis.NewScript(rotateScript)

// endScript closes a session and its authentication together.
//
// Mode "strict" (logout, close-session) requires an Activated authentication
// and leaves everything untouched otherwise. Mode "sweep" (close-all)
// requires an Active session and ends whatever live authentication it has.
const endScript = `
local session_key = KEYS[1]
local guid = redis.call("GET", KEYS[2])
local mode = ARGV[1]
local auth_key = nil
local status = 0
if guid then
  auth_key = ARGV[4] .. guid
  status = tonumber(redis.call("HGET", auth_key, "status") or "0")
end
if redis.call("EXISTS", session_key) == 0 then
  return 2
end
if mode == "strict" then
  if status ~= 2 then
    return 1
  end
else
  if redis.call("HGET", session_key, "state") ~= "Active" then
    return 3
  end
end
redis.call("HSET", session_key, "state", "Inactive")
if redis.call("HEXISTS", session_key, "end") == 0 then
  redis.call("HSET", session_key, "end", ARGV[3])
end
if auth_key and (status == 1 or status == 2) then
  local digest = redis.call("HGET", auth_key, "access_digest")
  if digest and digest ~= "" then
    redis.call("DEL", ARGV[5] .. digest)
  end
  redis.call("HSET", auth_key, "status", ARGV[2], "updated", ARGV[3], "access_token", "", "refresh_token", "", "access_digest", "")
end
return 4
`

var endLua = redis.NewScript(endScript)

// failPendingScript moves the session's Created authentication to
// ExpiredWithFailure. Activated and ended records are left alone.
const failPendingScript = `
local guid = redis.call("GET", KEYS[1])
if not guid then
  return 0
end
local key = ARGV[1] .. guid
if tonumber(redis.call("HGET", key, "status") or "0") ~= 1 then
  return 0
end
redis.call("HSET", key, "status", ARGV[2], "updated", ARGV[3])
return 1
`

var failPendingLua = redis.NewScript(failPendingScript)

// EndMode selects the precondition of End.
type EndMode string

const (
	EndStrict EndMode = "strict"
	EndSweep  EndMode = "sweep"
)

// AuthenticationStore persists one authentication per session in Redis.
type AuthenticationStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewAuthenticationStore returns a store. tokenTTL bounds the access-token
// index and retention bounds the records themselves.
func NewAuthenticationStore(client redis.UniversalClient, prefix string, retention, tokenTTL time.Duration) *AuthenticationStore {
	if prefix == "" {
		prefix = "ga"
	}
	return &AuthenticationStore{
		redis:     client,
		prefix:    prefix,
		retention: retention,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *AuthenticationStore) recordPrefix() string { return s.prefix + ":" }
func (s *AuthenticationStore) tokenPrefix() string  { return s.prefix + "t:" }

func (s *AuthenticationStore) key(guid string) string {
	return s.recordPrefix() + guid
}

func (s *AuthenticationStore) sessionKey(sessionID string) string {
	return s.prefix + "s:" + sessionID
}

// CreateOrRenew returns the live authentication for sessionID, inserting a
// Created record when there is none. Concurrent callers converge on one record.
func (s *AuthenticationStore) CreateOrRenew(ctx context.Context, sessionID string) (*Authentication, error) {
	guid, err := upsertLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID)},
		internal.NewGUID(), s.recordPrefix(), sessionID, s.now().UnixMilli(), s.retention.Milliseconds(),
	).Text()
	if err != nil {
		return nil, backendErr("authentication", "upsert", err)
	}
	auth, err := s.Get(ctx, guid)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, ErrAuthNotFound
	}
	return auth, nil
}

// Get loads an authentication by guid. Missing is (nil, nil).
func (s *AuthenticationStore) Get(ctx context.Context, guid string) (*Authentication, error) {
	if guid == "" {
		return nil, nil
	}
	fields, err := s.redis.HGetAll(ctx, s.key(guid)).Result()
	if err != nil {
		return nil, backendErr("authentication", "get", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeAuthentication(guid, fields), nil
}

// GetBySession loads the authentication currently indexed for sessionID.
func (s *AuthenticationStore) GetBySession(ctx context.Context, sessionID string) (*Authentication, error) {
	return s.getByIndex(ctx, s.sessionKey(sessionID))
}

// GetByAccessToken loads the authentication that owns token.
func (s *AuthenticationStore) GetByAccessToken(ctx context.Context, token string) (*Authentication, error) {
	auth, err := s.getByIndex(ctx, s.tokenPrefix()+internal.TokenDigest(token))
	if err != nil || auth == nil {
		return auth, err
	}
	if auth.AccessToken != token {
		return nil, nil
	}
	return auth, nil
}

func (s *AuthenticationStore) getByIndex(ctx context.Context, indexKey string) (*Authentication, error) {
	guid, err := s.redis.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, backendErr("authentication", "index", err)
	}
	return s.Get(ctx, guid)
}

// Activate stores a token pair and moves the record to Activated.
func (s *AuthenticationStore) Activate(ctx context.Context, guid, access, refresh string) error {
	res, err := activateAuthLua.Run(ctx, s.redis,
		[]string{s.key(guid)},
		access, refresh, internal.TokenDigest(access), s.now().UnixMilli(),
		s.tokenPrefix(), guid, s.tokenTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return backendErr("authentication", "activate", err)
	}
	switch res {
	case 0:
		return ErrAuthNotFound
	case 2:
		return ErrAuthTerminal
	}
	return nil
}

// RotateRefresh replaces the pair of sessionID's authentication when
// presented matches the stored refresh token.
func (s *AuthenticationStore) RotateRefresh(ctx context.Context, sessionID, presented, access, refresh string) (string, error) {
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID)},
		presented, access, refresh, internal.TokenDigest(access), s.tokenPrefix(),
		s.now().UnixMilli(), s.recordPrefix(), s.tokenTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return "", backendErr("authentication", "rotate", err)
	}
	if len(res) == 0 {
		return "", ErrAuthNotFound
	}
	code, _ := res[0].(int64)
	switch code {
	case 0:
		return "", ErrAuthNotFound
	case 2:
		return "", ErrRefreshMismatch
	case 3:
		return "", ErrAuthNotActivated
	}
	guid, _ := res[1].(string)
	return guid, nil
}

// End deactivates the session stored at sessionKey and ends its
// authentication with status, atomically.
func (s *AuthenticationStore) End(ctx context.Context, mode EndMode, sessionKey, sessionID string, status int) error {
	res, err := endLua.Run(ctx, s.redis,
		[]string{sessionKey, s.sessionKey(sessionID)},
		string(mode), status, s.now().UnixMilli(), s.recordPrefix(), s.tokenPrefix(),
	).Int64()
	if err != nil {
		return backendErr("authentication", "end", err)
	}
	switch res {
	case 1:
		return ErrAuthNotActivated
	case 2:
		return ErrSessionNotFound
	case 3:
		return ErrSessionNotActive
	}
	return nil
}

// FailPending ends the still Created authentication of sessionID with
// StatusExpiredWithFailure. It reports whether a record changed.
func (s *AuthenticationStore) FailPending(ctx context.Context, sessionID string) (bool, error) {
	res, err := failPendingLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID)},
		s.recordPrefix(), StatusExpiredWithFailure, s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, backendErr("authentication", "fail pending", err)
	}
	return res == 1, nil
}

func decodeAuthentication(guid string, fields map[string]string) *Authentication {
	auth := &Authentication{
		ID:           guid,
		SessionID:    fields["session_id"],
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
	}
	auth.Status, _ = strconv.Atoi(fields["status"])
	if ms, err := strconv.ParseInt(fields["created"], 10, 64); err == nil {
		auth.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["updated"], 10, 64); err == nil {
		auth.UpdatedAt = time.UnixMilli(ms)
	}
	return auth
}
