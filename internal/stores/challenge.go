package stores

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/glidauth/internal"
	"github.com/redis/go-redis/v9"
)

// Channel field prefixes inside a challenge hash.
const (
	ChannelEmail  = "email"
	ChannelMobile = "mobile"
)

// Challenge modules.
const (
	ModuleLogin           = "Login"
	ModuleRegistration    = "Registration"
	ModuleAccountRecovery = "AccountRecovery"
	ModulePassword        = "Password"
)

// Target is the address one channel of a challenge is sent to.
type Target struct {
	Address  string
	DialCode string
	Delivery string
}

// ChannelRecord is the verification state of one channel.
type ChannelRecord struct {
	Target
	Verified     bool
	LinkVerified bool
	Link         string
}

// Requested reports whether the channel was part of the challenge.
func (c ChannelRecord) Requested() bool { return c.Address != "" }

// Done reports whether the channel was verified by code or by link.
func (c ChannelRecord) Done() bool { return c.Verified || c.LinkVerified }

// Challenge is one OTP/magic-link issuance.
type Challenge struct {
	ID               string
	SessionID        string
	UserID           string
	GLID             string
	Module           string
	Reason           string
	Email            ChannelRecord
	Mobile           ChannelRecord
	MagicLinkSession string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// Channel returns the record of the named channel.
func (c *Challenge) Channel(name string) ChannelRecord {
	if name == ChannelMobile {
		return c.Mobile
	}
	return c.Email
}

// Expired reports whether now is past the absolute expiry.
func (c *Challenge) Expired(now time.Time) bool {
	return now.UnixMilli() > c.ExpiresAt.UnixMilli()
}

// Completed reports whether every requested channel is verified.
func (c *Challenge) Completed() bool {
	if !c.Email.Requested() && !c.Mobile.Requested() {
		return false
	}
	if c.Email.Requested() && !c.Email.Done() {
		return false
	}
	if c.Mobile.Requested() && !c.Mobile.Done() {
		return false
	}
	return true
}

// IssueRequest describes a challenge to issue. LinkBase, when set, is the
// magic-link URL the channel links are derived from.
type IssueRequest struct {
	SessionID string
	UserID    string
	GLID      string
	Module    string
	Reason    string
	Email     *Target
	Mobile    *Target
	LinkBase  string
}

// Issued is the result of Issue. Codes is empty when an existing live
// challenge was returned.
type Issued struct {
	Challenge *Challenge
	Codes     map[string]string
	Reused    bool
}

// issueScript returns the live challenge for an idempotency key or stores a
// new one together with its indexes.
const issueScript = `
local existing = redis.call("GET", KEYS[1])
if existing then
  local exp = tonumber(redis.call("HGET", ARGV[2] .. existing, "expires_at") or "0")
  if exp >= tonumber(ARGV[3]) then
    return existing
  end
end
local key = ARGV[2] .. ARGV[1]
redis.call("HSET", key, unpack(ARGV, 6))
redis.call("PEXPIRE", key, ARGV[4])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[5])
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[4])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("PEXPIRE", KEYS[3], ARGV[4])
return ARGV[1]
`

var issueLua = redis.NewScript(issueScript)

// verifyCodeScript checks, in order: presence, prior use, expiry, code.
const verifyCodeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local ch = ARGV[1]
local target = redis.call("HGET", KEYS[1], ch)
if not target or target == "" then
  return 0
end
if redis.call("HGET", KEYS[1], ch .. ARGV[4]) == "1" then
  return 2
end
if tonumber(ARGV[3]) > tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0") then
  return 3
end
if ARGV[2] ~= "" and redis.call("HGET", KEYS[1], ch .. "_otp") ~= ARGV[2] then
  return 4
end
redis.call("HSET", KEYS[1], ch .. ARGV[4], "1")
return 1
`

var verifyCodeLua = redis.NewScript(verifyCodeScript)

// verifyAnyScript matches a code against every requested channel that is not
// yet verified, email first. Returns {status, channel}.
const verifyAnyScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0, ""}
end
if tonumber(ARGV[2]) > tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0") then
  return {3, ""}
end
for _, ch in ipairs({"email", "mobile"}) do
  local target = redis.call("HGET", KEYS[1], ch)
  if target and target ~= "" and redis.call("HGET", KEYS[1], ch .. "_verified") ~= "1" then
    if redis.call("HGET", KEYS[1], ch .. "_otp") == ARGV[1] then
      redis.call("HSET", KEYS[1], ch .. "_verified", "1")
      return {1, ch}
    end
  end
end
return {4, ""}
`

var verifyAnyLua = redis.NewScript(verifyAnyScript)

const (
	verifyMissing  int64 = 0
	verifyOK       int64 = 1
	verifyUsed     int64 = 2
	verifyExpired  int64 = 3
	verifyMismatch int64 = 4
)

// ChallengeStore is the OTP/MFA ledger. Records are never deleted by the
// store; they age out after the retention TTL.
type ChallengeStore struct {
	redis     redis.UniversalClient
	prefix    string
	window    time.Duration
	digits    int
	retention time.Duration
	now       func() time.Time
}

// NewChallengeStore returns a ledger issuing codes of digits length valid for
// window.
func NewChallengeStore(client redis.UniversalClient, prefix string, window time.Duration, digits int, retention time.Duration) *ChallengeStore {
	if prefix == "" {
		prefix = "gc"
	}
	if retention < window {
		retention = window
	}
	return &ChallengeStore{
		redis:     client,
		prefix:    prefix,
		window:    window,
		digits:    digits,
		retention: retention,
		now:       time.Now,
	}
}

// SetClock replaces the store clock. Tests use it to step past expiry.
func (s *ChallengeStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ChallengeStore) recordPrefix() string { return s.prefix + ":" }

func (s *ChallengeStore) key(id string) string { return s.recordPrefix() + id }

func (s *ChallengeStore) idempotencyKey(req IssueRequest) string {
	var channels []string
	if req.Email != nil {
		channels = append(channels, ChannelEmail)
	}
	if req.Mobile != nil {
		channels = append(channels, ChannelMobile)
	}
	raw := strings.Join([]string{req.UserID, req.GLID, req.SessionID, req.Module, req.Reason, strings.Join(channels, ",")}, "|")
	return s.prefix + "i:" + internal.TokenDigest(raw)
}

func (s *ChallengeStore) magicLinkKey(mls string) string { return s.prefix + "m:" + mls }

func (s *ChallengeStore) sessionKey(sessionID string) string { return s.prefix + "s:" + sessionID }

// Window returns the validity window of new challenges.
func (s *ChallengeStore) Window() time.Duration { return s.window }

// Issue stores a new challenge, or returns the live one issued for the same
// user, GLID, session, module, reason and channels.
func (s *ChallengeStore) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if req.Email == nil && req.Mobile == nil {
		return nil, errors.New("challenge needs at least one channel")
	}

	now := s.now()
	id := internal.NewGUID()
	mls, err := internal.NewMagicLinkSession()
	if err != nil {
		return nil, err
	}
	expires := now.Add(s.window)

	fields := []interface{}{
		"session_id", req.SessionID,
		"user_id", req.UserID,
		"glid", req.GLID,
		"module", req.Module,
		"reason", req.Reason,
		"magic_link_session", mls,
		"expires_at", expires.UnixMilli(),
		"created", now.UnixMilli(),
	}
	codes := make(map[string]string, 2)
	for _, ch := range []struct {
		name   string
		target *Target
	}{{ChannelEmail, req.Email}, {ChannelMobile, req.Mobile}} {
		if ch.target == nil {
			continue
		}
		code, err := internal.NewOTP(s.digits)
		if err != nil {
			return nil, err
		}
		codes[ch.name] = code
		link := buildLink(req.LinkBase, ch.name, id, expires)
		fields = append(fields,
			ch.name, ch.target.Address,
			ch.name+"_dial_code", ch.target.DialCode,
			ch.name+"_delivery", ch.target.Delivery,
			ch.name+"_otp", internal.TokenDigest(code),
			ch.name+"_verified", "0",
			ch.name+"_link_verified", "0",
			ch.name+"_link", link,
		)
	}

	args := append([]interface{}{
		id, s.recordPrefix(), now.UnixMilli(), s.retention.Milliseconds(), s.window.Milliseconds(),
	}, fields...)
	got, err := issueLua.Run(ctx, s.redis,
		[]string{s.idempotencyKey(req), s.magicLinkKey(mls), s.sessionKey(req.SessionID)},
		args...,
	).Text()
	if err != nil {
		return nil, backendErr("challenge", "issue", err)
	}

	challenge, err := s.Get(ctx, got)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrChallengeNotFound
	}
	if got != id {
		return &Issued{Challenge: challenge, Reused: true}, nil
	}
	return &Issued{Challenge: challenge, Codes: codes}, nil
}

// buildLink appends the channel mode, challenge guid and expiry to base.
func buildLink(base, channel, id string, expires time.Time) string {
	if base == "" {
		return ""
	}
	mode := "e"
	if channel == ChannelMobile {
		mode = "p"
	}
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("guid", id)
	q.Set("exp", strconv.FormatInt(expires.UnixMilli(), 10))
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// Get loads a challenge. Missing is (nil, nil).
func (s *ChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	if id == "" {
		return nil, nil
	}
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, backendErr("challenge", "get", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeChallenge(id, fields), nil
}

// ResolveMagicLinkSession returns the challenge guid for a magic-link
// correlator, or "" when unknown.
func (s *ChallengeStore) ResolveMagicLinkSession(ctx context.Context, mls string) (string, error) {
	id, err := s.redis.Get(ctx, s.magicLinkKey(mls)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", backendErr("challenge", "resolve_magic_link", err)
	}
	return id, nil
}

// VerifyCode marks channel verified when code matches. A channel verifies at
// most once.
func (s *ChallengeStore) VerifyCode(ctx context.Context, id, code, channel string) error {
	if code == "" {
		return ErrChallengeMismatch
	}
	return s.verify(ctx, id, channel, internal.TokenDigest(code), "_verified")
}

// VerifyLink marks channel verified by magic link.
func (s *ChallengeStore) VerifyLink(ctx context.Context, id, channel string) error {
	return s.verify(ctx, id, channel, "", "_link_verified")
}

func (s *ChallengeStore) verify(ctx context.Context, id, channel, digest, flag string) error {
	if channel != ChannelEmail && channel != ChannelMobile {
		return ErrChallengeNotFound
	}
	res, err := verifyCodeLua.Run(ctx, s.redis, []string{s.key(id)},
		channel, digest, s.now().UnixMilli(), flag,
	).Int64()
	if err != nil {
		return backendErr("challenge", "verify", err)
	}
	return verifyResult(res)
}

// VerifyAnyCode matches code against each unverified requested channel and
// returns the channel it verified.
func (s *ChallengeStore) VerifyAnyCode(ctx context.Context, id, code string) (string, error) {
	if code == "" {
		return "", ErrChallengeMismatch
	}
	res, err := verifyAnyLua.Run(ctx, s.redis, []string{s.key(id)},
		internal.TokenDigest(code), s.now().UnixMilli(),
	).Slice()
	if err != nil {
		return "", backendErr("challenge", "verify_any", err)
	}
	if len(res) != 2 {
		return "", ErrChallengeNotFound
	}
	status, _ := res[0].(int64)
	channel, _ := res[1].(string)
	if err := verifyResult(status); err != nil {
		return "", err
	}
	return channel, nil
}

func verifyResult(res int64) error {
	switch res {
	case verifyOK:
		return nil
	case verifyUsed:
		return ErrChallengeUsed
	case verifyExpired:
		return ErrChallengeExpired
	case verifyMismatch:
		return ErrChallengeMismatch
	default:
		return ErrChallengeNotFound
	}
}

// MarkExpiryLogged flags a challenge whose expiry was recorded on its
// session. It reports false when the flag was already set.
func (s *ChallengeStore) MarkExpiryLogged(ctx context.Context, id string) (bool, error) {
	ok, err := s.redis.HSetNX(ctx, s.key(id), "expiry_logged", "1").Result()
	if err != nil {
		return false, backendErr("challenge", "mark_expiry_logged", err)
	}
	return ok, nil
}

// ForSession lists every challenge issued for a session still retained.
func (s *ChallengeStore) ForSession(ctx context.Context, sessionID string) ([]*Challenge, error) {
	ids, err := s.redis.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr("challenge", "for_session", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr("challenge", "for_session", err)
	}

	out := make([]*Challenge, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, decodeChallenge(id, fields))
	}
	return out, nil
}

func decodeChallenge(id string, f map[string]string) *Challenge {
	c := &Challenge{
		ID:               id,
		SessionID:        f["session_id"],
		UserID:           f["user_id"],
		GLID:             f["glid"],
		Module:           f["module"],
		Reason:           f["reason"],
		MagicLinkSession: f["magic_link_session"],
		Email:            decodeChannel(ChannelEmail, f),
		Mobile:           decodeChannel(ChannelMobile, f),
	}
	if ms, err := strconv.ParseInt(f["expires_at"], 10, 64); err == nil {
		c.ExpiresAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(f["created"], 10, 64); err == nil {
		c.CreatedAt = time.UnixMilli(ms)
	}
	return c
}

func decodeChannel(name string, f map[string]string) ChannelRecord {
	return ChannelRecord{
		Target: Target{
			Address:  f[name],
			DialCode: f[name+"_dial_code"],
			Delivery: f[name+"_delivery"],
		},
		Verified:     f[name+"_verified"] == "1",
		LinkVerified: f[name+"_link_verified"] == "1",
		Link:         f[name+"_link"],
	}
}
