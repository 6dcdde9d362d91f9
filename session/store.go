package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

var (
	// ErrRedisUnavailable wraps every backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned by mutations on a missing session.
	ErrNotFound = errors.New("session not found")
	// ErrEnded is returned when activating a session whose end is stamped.
	ErrEnded = errors.New("session ended")
	// ErrBoundToOther is returned when identifying an active session for a different user.
	ErrBoundToOther = errors.New("session bound to another user")
)

const (
	fieldUserID     = "user_id"
	fieldUserName   = "user_name"
	fieldGLID       = "glid"
	fieldState      = "state"
	fieldAuthState  = "auth_state"
	fieldStart      = "start"
	fieldEnd        = "end"
	fieldLastAccess = "last_access"
	fieldIP         = "ip"
	fieldLocation   = "location"
	fieldDevice     = "device"
	fieldSystemType = "system_type"
)

const (
	scriptMissing int64 = 0
	scriptOK      int64 = 1
	scriptEnded   int64 = 2
	scriptRebound int64 = 3
	scriptBound   int64 = 4
)

// activateScript flips a session to Active. lastAccess never moves backwards
// and an ended session is never reactivated.
const activateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "end") == 1 then
  return 2
end
local now = tonumber(ARGV[1])
local last = tonumber(redis.call("HGET", KEYS[1], "last_access") or "0")
if now > last then
  last = now
end
redis.call("HSET", KEYS[1], "state", "Active", "last_access", last)
redis.call("RPUSH", KEYS[2], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1
`

var activateLua = redis.NewScript(activateScript)

const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local now = tonumber(ARGV[1])
local last = tonumber(redis.call("HGET", KEYS[1], "last_access") or "0")
if now > last then
  redis.call("HSET", KEYS[1], "last_access", now)
end
return 1
`

var touchLua = redis.NewScript(touchScript)

const deactivateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "state", "Inactive")
if redis.call("HEXISTS", KEYS[1], "end") == 0 then
  redis.call("HSET", KEYS[1], "end", ARGV[1])
end
return 1
`

var deactivateLua = redis.NewScript(deactivateScript)

// identifyScript binds a user. Rebinding to a different user is refused on
// an Active session and logged as a failed pre-authentication otherwise.
const identifyScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local status = 1
local current = redis.call("HGET", KEYS[1], "user_id")
if current and current ~= "" and current ~= ARGV[1] then
  if redis.call("HGET", KEYS[1], "state") == "Active" then
    return 4
  end
  redis.call("RPUSH", KEYS[2], ARGV[5])
  redis.call("SREM", ARGV[6] .. current, ARGV[4])
  status = 3
end
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "user_name", ARGV[2], "glid", ARGV[3], "auth_state", "identified")
redis.call("SADD", KEYS[3], ARGV[4])
redis.call("PEXPIRE", KEYS[3], ARGV[7])
return status
`

var identifyLua = redis.NewScript(identifyScript)

// Store persists sessions as Redis hashes with a pre-authentication list and
// a per-user index.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	expirySeconds int64
	retention     time.Duration
	now           func() time.Time
}

// NewStore returns a Store. expirySeconds is the inactivity window and
// retention bounds how long session records stay in Redis.
func NewStore(client redis.UniversalClient, prefix string, expirySeconds int64, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "gs"
	}
	return &Store{
		redis:         client,
		prefix:        prefix,
		expirySeconds: expirySeconds,
		retention:     retention,
		now:           time.Now,
	}
}

// Key returns the Redis hash key of a session.
func (s *Store) Key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) preAuthKey(sessionID string) string {
	return s.prefix + ":" + sessionID + ":pre"
}

func (s *Store) userPrefix() string {
	return s.prefix + "u:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

// ExpirySeconds returns the inactivity window.
func (s *Store) ExpirySeconds() int64 {
	return s.expirySeconds
}

// TimedOut reports whether sess has been idle longer than the window.
func (s *Store) TimedOut(sess *Session) bool {
	return sess.TimedOut(s.now(), s.expirySeconds)
}

func backendErr(op, sessionID string, err error) error {
	return oops.In("session").
		Code("SESSION_BACKEND").
		With("operation", op).
		With("session_id", sessionID).
		Wrap(fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
}

// CreateUnidentified stores a new pending session. lastAccess is the current
// time rounded up to the next second.
func (s *Store) CreateUnidentified(ctx context.Context, meta Meta) (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		AuthState:  AuthUnidentified,
		StartedAt:  now,
		LastAccess: int64(math.Ceil(float64(now.UnixNano()) / float64(time.Second))),
		Meta:       meta,
	}

	key := s.Key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldState, string(StatePending),
			fieldAuthState, string(sess.AuthState),
			fieldStart, sess.StartedAt.UnixMilli(),
			fieldLastAccess, sess.LastAccess,
			fieldIP, meta.IP,
			fieldLocation, meta.Location,
			fieldDevice, meta.Device,
			fieldSystemType, meta.SystemType,
		)
		pipe.PExpire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return nil, backendErr("create", sess.ID, err)
	}
	return sess, nil
}

// Get loads a session with its pre-authentication log. A missing session is
// (nil, nil).
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, s.Key(sessionID))
	preCmd := pipe.LRange(ctx, s.preAuthKey(sessionID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr("get", sessionID, err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, nil
	}

	sess := decodeSession(sessionID, fields)
	for _, raw := range preCmd.Val() {
		var entry PreAuth
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		sess.PreAuth = append(sess.PreAuth, entry)
	}
	return sess, nil
}

func decodeSession(sessionID string, fields map[string]string) *Session {
	sess := &Session{
		ID:        sessionID,
		UserID:    fields[fieldUserID],
		UserName:  fields[fieldUserName],
		GLID:      fields[fieldGLID],
		State:     State(fields[fieldState]),
		AuthState: AuthState(fields[fieldAuthState]),
		Meta: Meta{
			IP:         fields[fieldIP],
			Location:   fields[fieldLocation],
			Device:     fields[fieldDevice],
			SystemType: fields[fieldSystemType],
		},
	}
	if ms, err := strconv.ParseInt(fields[fieldStart], 10, 64); err == nil {
		sess.StartedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields[fieldEnd], 10, 64); err == nil && ms > 0 {
		sess.EndedAt = time.UnixMilli(ms)
	}
	sess.LastAccess, _ = strconv.ParseInt(fields[fieldLastAccess], 10, 64)
	return sess
}

// Identify binds userID to the session and indexes it under the user.
func (s *Store) Identify(ctx context.Context, sessionID, userID, userName, glid string) error {
	failure, err := encodePreAuth(PreAuth{Time: s.now(), Attempt: AttemptFailure, Details: DetailDifferentUsername})
	if err != nil {
		return err
	}
	res, err := identifyLua.Run(ctx, s.redis,
		[]string{s.Key(sessionID), s.preAuthKey(sessionID), s.userKey(userID)},
		userID, userName, glid, sessionID, failure, s.userPrefix(), s.retention.Milliseconds(),
	).Int64()
	if err != nil {
		return backendErr("identify", sessionID, err)
	}
	switch res {
	case scriptMissing:
		return ErrNotFound
	case scriptBound:
		return ErrBoundToOther
	}
	return nil
}

// Activate marks the session Active and appends a successful pre-authentication.
func (s *Store) Activate(ctx context.Context, sessionID string) error {
	now := s.now()
	entry, err := encodePreAuth(PreAuth{Time: now, Attempt: AttemptSuccess})
	if err != nil {
		return err
	}
	res, err := activateLua.Run(ctx, s.redis,
		[]string{s.Key(sessionID), s.preAuthKey(sessionID)},
		now.Unix(), entry, s.retention.Milliseconds(),
	).Int64()
	if err != nil {
		return backendErr("activate", sessionID, err)
	}
	switch res {
	case scriptMissing:
		return ErrNotFound
	case scriptEnded:
		return ErrEnded
	}
	return nil
}

// Deactivate marks the session Inactive and stamps its end once.
func (s *Store) Deactivate(ctx context.Context, sessionID string) error {
	res, err := deactivateLua.Run(ctx, s.redis, []string{s.Key(sessionID)}, s.now().UnixMilli()).Int64()
	if err != nil {
		return backendErr("deactivate", sessionID, err)
	}
	if res == scriptMissing {
		return ErrNotFound
	}
	return nil
}

// Touch advances lastAccess to now. It never moves it backwards.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	res, err := touchLua.Run(ctx, s.redis, []string{s.Key(sessionID)}, s.now().Unix()).Int64()
	if err != nil {
		return backendErr("touch", sessionID, err)
	}
	if res == scriptMissing {
		return ErrNotFound
	}
	return nil
}

// PushPreAuth appends an entry to the pre-authentication log.
func (s *Store) PushPreAuth(ctx context.Context, sessionID string, entry PreAuth) error {
	if entry.Time.IsZero() {
		entry.Time = s.now()
	}
	raw, err := encodePreAuth(entry)
	if err != nil {
		return err
	}
	exists, err := s.redis.Exists(ctx, s.Key(sessionID)).Result()
	if err != nil {
		return backendErr("push_pre_auth", sessionID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	key := s.preAuthKey(sessionID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.PExpire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return backendErr("push_pre_auth", sessionID, err)
	}
	return nil
}

// ActiveForUser lists the user's Active, identified sessions except excluding.
func (s *Store) ActiveForUser(ctx context.Context, userID, excluding string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, backendErr("active_for_user", excluding, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.Key(id), fieldUserID, fieldState, fieldAuthState)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr("active_for_user", excluding, err)
	}

	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if id == excluding {
			continue
		}
		vals := cmds[i].Val()
		if len(vals) != 3 {
			continue
		}
		owner, _ := vals[0].(string)
		state, _ := vals[1].(string)
		authState, _ := vals[2].(string)
		if owner == userID && State(state) == StateActive && AuthState(authState) == AuthIdentified {
			out = append(out, id)
		}
	}
	return out, nil
}

func encodePreAuth(entry PreAuth) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
