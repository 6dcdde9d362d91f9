package glidauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/notify"
	"github.com/MrEthical07/glidauth/password"
	"github.com/MrEthical07/glidauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testEngine struct {
	*Engine
	rdb   *redis.Client
	dir   *directory.Memory
	inbox chan notify.Message
	audit *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("engine-test-signing-key-0123456789")
	cfg.Session.ExpirySeconds = 900
	cfg.Password = PasswordConfig{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Links.BaseURL = "https://id.example.com/"
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: true}
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	te := &testEngine{
		rdb:   rdb,
		dir:   directory.NewMemory(),
		inbox: make(chan notify.Message, 32),
		audit: NewChannelSink(512),
	}
	notifier := notify.NotifierFunc(func(_ context.Context, msg notify.Message) error {
		te.inbox <- msg
		return nil
	})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(te.dir).
		WithNotifier(notifier).
		WithAuditSink(te.audit).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	te.Engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return te
}

func (te *testEngine) addUser(t *testing.T, glid, pwd, email, phone string) *directory.MasterUser {
	t.Helper()
	hash := ""
	if pwd != "" {
		var err error
		hash, err = te.passwordHash.Hash(pwd)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
	}
	te.dir.Put(directory.MasterUser{
		GLID:         glid,
		PasswordHash: hash,
		PrimaryEmail: email,
		PrimaryPhone: phone,
		DialCode:     "+1",
		Location:     "us",
	}, directory.Profile{Name: "Ada " + glid})
	master, err := te.dir.MasterByGLID(context.Background(), glid)
	if err != nil || master == nil {
		t.Fatalf("seeded user missing: %v", err)
	}
	return master
}

func (te *testEngine) newSession(t *testing.T) string {
	t.Helper()
	res, err := te.CreateSession(context.Background(), "", SessionMeta{IP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return res.SessionID
}

func (te *testEngine) nextMessage(t *testing.T) notify.Message {
	t.Helper()
	select {
	case msg := <-te.inbox:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification delivered")
		return notify.Message{}
	}
}

func (te *testEngine) passwordLogin(t *testing.T, glid, pwd string) (string, *LoginResult) {
	t.Helper()
	sid := te.newSession(t)
	res, err := te.Login(context.Background(), sid, glid, pwd)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.RequiredMFAAuth || res.Tokens == nil {
		t.Fatalf("expected password-only login, got %+v", res)
	}
	return sid, res
}

func (te *testEngine) ageSession(t *testing.T, sid string) {
	t.Helper()
	stale := time.Now().Add(-time.Hour).Unix()
	if err := te.rdb.HSet(context.Background(), te.sessions.Key(sid), "last_access", stale).Err(); err != nil {
		t.Fatalf("age session: %v", err)
	}
}

func TestBuildRequiresRedisAndDirectory(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).WithDirectory(directory.NewMemory()).Build(); err == nil {
		t.Fatalf("expected error without redis")
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatalf("expected error without directory")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithDirectory(directory.NewMemory())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("builder must not be reusable")
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "s", "g", "p"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if e.AuditDropped() != 0 || e.NotifyDropped() != 0 {
		t.Fatalf("nil engine must report zero drops")
	}
	e.Close()
}

func TestPasswordOnlyLogin(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	master := te.addUser(t, "solo", "correct horse", "", "")

	sid, res := te.passwordLogin(t, "solo", "correct horse")
	if res.Status != statusSuccess || res.AuthID == "" || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if res.Tokens.RefreshExpiresIn != int64(defaultRefreshTTL/time.Second) {
		t.Fatalf("refresh token must live 20 days, got %ds", res.Tokens.RefreshExpiresIn)
	}

	state, err := te.SessionState(ctx, sid)
	if err != nil || state.State != "Active" || state.Ref != res.AuthID {
		t.Fatalf("unexpected session state %+v err=%v", state, err)
	}

	auth, err := te.Authorize(ctx, RouteRestricted, sid, res.Tokens.AccessToken)
	if err != nil || auth.UserID != master.GUID {
		t.Fatalf("authorize: %+v err=%v", auth, err)
	}
}

func TestLoginFailures(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "solo", "correct horse", "", "")
	sid := te.newSession(t)

	if _, err := te.Login(ctx, sid, "nobody", "correct horse"); !errors.Is(err, ErrInvalidGLID) {
		t.Fatalf("expected ErrInvalidGLID, got %v", err)
	}
	if _, err := te.Login(ctx, sid, "solo", "wrong horse"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := te.Login(ctx, "", "solo", "correct horse"); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
	if got := te.metrics.Value(MetricLoginFailure); got != 2 {
		t.Fatalf("expected 2 login failures, got %d", got)
	}

	sess, err := te.sessions.Get(ctx, sid)
	if err != nil || sess == nil {
		t.Fatalf("load session: %v", err)
	}
	if len(sess.PreAuth) == 0 {
		t.Fatalf("failed password attempt must be logged on the session")
	}
}

func TestMFALoginWithOTP(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	master := te.addUser(t, "ada", "correct horse", "ada@example.com", "5550100")
	sid := te.newSession(t)

	login, err := te.Login(ctx, sid, "ada", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !login.RequiredMFAAuth || login.Tokens != nil {
		t.Fatalf("expected MFA requirement, got %+v", login)
	}
	if len(login.VerifiedMFAs) != 2 || login.VerifiedMFAs[0] != ChannelEmail || login.VerifiedMFAs[1] != ChannelMobile {
		t.Fatalf("unexpected channels %v", login.VerifiedMFAs)
	}

	if _, err := te.SendLoginOTP(ctx, sid, "ada", "pigeon"); !errors.Is(err, ErrInvalidMFAType) {
		t.Fatalf("expected ErrInvalidMFAType, got %v", err)
	}

	ticket, err := te.SendLoginOTP(ctx, sid, "ada", "email")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	msg := te.nextMessage(t)
	if msg.Kind != notify.KindLoginOTP || msg.To != "ada@example.com" || len(msg.Code) != 6 {
		t.Fatalf("unexpected message %+v", msg)
	}

	wrong := "000000"
	if msg.Code == wrong {
		wrong = "111111"
	}
	if _, err := te.VerifyLoginOTP(ctx, sid, "ada", ticket.ID, wrong, "email"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if _, err := te.VerifyLoginOTP(ctx, sid, "ada", ticket.ID, msg.Code, "fax"); !errors.Is(err, ErrInvalidLoginType) {
		t.Fatalf("expected ErrInvalidLoginType, got %v", err)
	}

	ref, err := te.VerifyLoginOTP(ctx, sid, "ada", ticket.ID, msg.Code, "email")
	if err != nil || ref.Ref == "" {
		t.Fatalf("verify otp: %+v err=%v", ref, err)
	}

	if state, _ := te.SessionState(ctx, sid); state.State != "pending" {
		t.Fatalf("session must stay pending until the ref is verified, got %+v", state)
	}

	act, err := te.VerifyLoginAuthRef(ctx, ref.Ref)
	if err != nil {
		t.Fatalf("verify auth ref: %v", err)
	}
	if act.UserID != master.GUID || act.SessionID != sid || act.Tokens == nil {
		t.Fatalf("unexpected activation %+v", act)
	}
	if _, err := te.VerifyLoginAuthRef(ctx, ref.Ref); !errors.Is(err, ErrInvalidVerification) {
		t.Fatalf("expected ErrInvalidVerification on reuse, got %v", err)
	}

	state, err := te.SessionState(ctx, sid)
	if err != nil || state.State != "Active" || state.Ref != ref.Ref {
		t.Fatalf("unexpected session state %+v err=%v", state, err)
	}
	initial, err := te.InitialAuth(ctx, sid, ref.Ref)
	if err != nil || initial.AccessToken != act.Tokens.AccessToken || initial.UserID != master.GUID {
		t.Fatalf("unexpected initial auth %+v err=%v", initial, err)
	}

	snap := te.MetricsSnapshot()
	if snap.Counters[MetricMFARequired] != 1 || snap.Counters[MetricOTPVerified] != 1 || snap.Counters[MetricOTPFailure] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
}

func TestSendLoginOTPIsIdempotent(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "ada", "correct horse", "ada@example.com", "")
	sid := te.newSession(t)

	first, err := te.SendLoginOTP(ctx, sid, "ada", "email")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	te.nextMessage(t)

	second, err := te.SendLoginOTP(ctx, sid, "ada", "email")
	if err != nil {
		t.Fatalf("resend otp: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the live challenge back, got %s and %s", first.ID, second.ID)
	}
	select {
	case msg := <-te.inbox:
		t.Fatalf("reused challenge must not be sent again, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := te.SendLoginOTP(ctx, sid, "ada", "message"); !errors.Is(err, ErrNoVerifiedMobile) {
		t.Fatalf("expected ErrNoVerifiedMobile, got %v", err)
	}
}

func TestMagicLinkLogin(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "ada", "correct horse", "ada@example.com", "")
	sid := te.newSession(t)

	ticket, err := te.SendLoginOTP(ctx, sid, "ada", "email")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	msg := te.nextMessage(t)
	link, err := url.Parse(msg.Link)
	if err != nil || link.Host != "id.example.com" {
		t.Fatalf("unexpected link %q: %v", msg.Link, err)
	}
	q := link.Query()
	if q.Get("mode") != "e" || q.Get("guid") != ticket.ID || q.Get("ref") == "" {
		t.Fatalf("unexpected link query %v", q)
	}

	if _, err := te.VerifyLoginMagicLink(ctx, q.Get("ref"), ticket.ID, "x"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink for bad mode, got %v", err)
	}

	act, err := te.VerifyLoginMagicLink(ctx, q.Get("ref"), ticket.ID, "e")
	if err != nil || act.SessionID != sid || act.Tokens == nil {
		t.Fatalf("magic link: %+v err=%v", act, err)
	}
	if _, err := te.VerifyLoginMagicLink(ctx, q.Get("ref"), ticket.ID, "e"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("a link must work once, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "solo", "correct horse", "", "")
	sid, login := te.passwordLogin(t, "solo", "correct horse")

	if _, err := te.Refresh(ctx, sid, ""); !errors.Is(err, ErrMissingRefreshToken) {
		t.Fatalf("expected ErrMissingRefreshToken, got %v", err)
	}

	pair, err := te.Refresh(ctx, sid, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if pair.RefreshToken == login.Tokens.RefreshToken {
		t.Fatalf("refresh token must rotate")
	}
	if _, err := te.Refresh(ctx, sid, login.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("presented token must stop working, got %v", err)
	}
	if _, err := te.Refresh(ctx, sid, pair.RefreshToken); err != nil {
		t.Fatalf("rotated token must work: %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "solo", "correct horse", "", "")
	sid, login := te.passwordLogin(t, "solo", "correct horse")

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := te.Refresh(ctx, sid, login.Tokens.RefreshToken); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one refresh winner, got %d", winners)
	}
	if got := te.metrics.Value(MetricRefreshFailure); got != workers-1 {
		t.Fatalf("expected %d refresh failures, got %d", workers-1, got)
	}
}

func TestRefreshTimedOutSession(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "solo", "correct horse", "", "")
	sid, login := te.passwordLogin(t, "solo", "correct horse")
	te.ageSession(t, sid)

	if _, err := te.Refresh(ctx, sid, login.Tokens.RefreshToken); !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
	if got := te.metrics.Value(MetricSessionTimeout); got != 1 {
		t.Fatalf("expected one timeout, got %d", got)
	}
}

func TestLogoutAndCloseSessions(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	master := te.addUser(t, "solo", "correct horse", "", "")

	current, _ := te.passwordLogin(t, "solo", "correct horse")
	second, _ := te.passwordLogin(t, "solo", "correct horse")
	third, thirdLogin := te.passwordLogin(t, "solo", "correct horse")

	if err := te.CloseSession(ctx, current, current, master.GUID); !errors.Is(err, ErrCloseCurrentSession) {
		t.Fatalf("expected ErrCloseCurrentSession, got %v", err)
	}
	if err := te.CloseSession(ctx, current, second, master.GUID); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if state, _ := te.SessionState(ctx, second); state.State != "pending" {
		t.Fatalf("closed session must not be active, got %+v", state)
	}

	closed, err := te.CloseAllSessions(ctx, current, master.GUID)
	if err != nil || closed != 1 {
		t.Fatalf("close all: closed=%d err=%v", closed, err)
	}
	if _, err := te.Authorize(ctx, RouteRestricted, third, thirdLogin.Tokens.AccessToken); err == nil {
		t.Fatalf("closed session must not authorize")
	}
	if state, _ := te.SessionState(ctx, current); state.State != "Active" {
		t.Fatalf("current session must survive close all, got %+v", state)
	}

	if err := te.Logout(ctx, current); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := te.Logout(ctx, current); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession on second logout, got %v", err)
	}
}

func TestCloseAllOverThreeSessions(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	master := te.addUser(t, "solo", "correct horse", "", "")

	current, _ := te.passwordLogin(t, "solo", "correct horse")
	te.passwordLogin(t, "solo", "correct horse")
	te.passwordLogin(t, "solo", "correct horse")

	closed, err := te.CloseAllSessions(ctx, current, master.GUID)
	if err != nil || closed != 2 {
		t.Fatalf("expected 2 closed sessions, got %d err=%v", closed, err)
	}
	if got := te.metrics.Value(MetricSessionClosed); got != 2 {
		t.Fatalf("expected 2 closed sessions counted, got %d", got)
	}
}

func TestAuthorizeModes(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Metrics.EnableLatencyHistograms = true })
	ctx := context.Background()
	master := te.addUser(t, "solo", "correct horse", "", "")
	sid, login := te.passwordLogin(t, "solo", "correct horse")

	if _, err := te.Authorize(ctx, RoutePublic, "", ""); err != nil {
		t.Fatalf("public must never reject, got %v", err)
	}
	if _, err := te.Authorize(ctx, RouteStandard, "", ""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("standard requires a session, got %v", err)
	}
	if _, err := te.Authorize(ctx, RouteRestricted, sid, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("restricted requires a token, got %v", err)
	}
	if _, err := te.Authorize(ctx, RouteRestricted, sid, login.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh token must not authorize, got %v", err)
	}

	res, err := te.Authorize(ctx, RouteRestricted, sid, login.Tokens.AccessToken)
	if err != nil || res.UserID != master.GUID || !res.Touched {
		t.Fatalf("restricted: %+v err=%v", res, err)
	}

	snap := te.MetricsSnapshot()
	var observed uint64
	for _, n := range snap.Histograms[MetricAuthorizeLatency] {
		observed += n
	}
	if observed != 5 {
		t.Fatalf("expected 5 latency observations, got %d", observed)
	}
}

func TestAuthorizeTimeout(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "solo", "correct horse", "", "")
	sid, _ := te.passwordLogin(t, "solo", "correct horse")
	te.ageSession(t, sid)

	res, err := te.Authorize(ctx, RouteNoTouch, sid, "")
	if err != nil || res.Touched {
		t.Fatalf("no-touch: %+v err=%v", res, err)
	}

	res, err = te.Authorize(ctx, RouteStandard, sid, "")
	if !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
	if res == nil || !res.TimedOut {
		t.Fatalf("timed out result must be returned, got %+v", res)
	}
	if _, err := te.SessionDetail(ctx, sid, ""); err == nil {
		t.Fatalf("ended session must not be reported as data")
	}
}

func TestCreateSessionReusesAndFillsMeta(t *testing.T) {
	locate := LocatorFunc(func(_ context.Context, ip string) (string, error) {
		if ip != "198.51.100.7" {
			return "", errors.New("unknown ip")
		}
		return "Berlin, DE", nil
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	e, err := New().WithConfig(testConfig()).WithRedis(rdb).WithDirectory(directory.NewMemory()).WithLocator(locate).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.7"),
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile")
	created, err := e.CreateSession(ctx, "", SessionMeta{})
	if err != nil || created.Reused {
		t.Fatalf("create: %+v err=%v", created, err)
	}

	sess, err := e.sessions.Get(ctx, created.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("load session: %v", err)
	}
	if m := sess.Meta; m.IP != "198.51.100.7" || m.Location != "Berlin, DE" || m.SystemType != "iOS" || m.Device != "mobile" {
		t.Fatalf("unexpected meta %+v", m)
	}

	again, err := e.CreateSession(ctx, created.SessionID, SessionMeta{})
	if err != nil || !again.Reused || again.SessionID != created.SessionID {
		t.Fatalf("live session must be reused, got %+v err=%v", again, err)
	}
	if _, err := e.CreateSession(ctx, "missing", SessionMeta{}); err != nil {
		t.Fatalf("unknown current session must start a new one: %v", err)
	}
}

// expiredLoginSetup sends a login code and moves the clock past its window.
func expiredLoginSetup(t *testing.T) (*Engine, string, string) {
	t.Helper()
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	dir := directory.NewMemory()
	dir.Put(directory.MasterUser{GLID: "ada", PrimaryEmail: "ada@example.com"}, directory.Profile{Name: "Ada"})

	e, err := New().WithConfig(testConfig()).WithRedis(rdb).WithDirectory(dir).withClock(clock).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	ctx := context.Background()

	created, err := e.CreateSession(ctx, "", SessionMeta{IP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ticket, err := e.SendLoginOTP(ctx, created.SessionID, "ada", "email")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()
	return e, created.SessionID, ticket.ID
}

func assertExpiredLogin(t *testing.T, e *Engine, sid string) {
	t.Helper()
	ctx := context.Background()
	sess, err := e.sessions.Get(ctx, sid)
	if err != nil || sess == nil {
		t.Fatalf("session: %+v err=%v", sess, err)
	}
	entries := 0
	for _, entry := range sess.PreAuth {
		if entry.Details == session.DetailCodeExpired {
			entries++
		}
	}
	if entries != 1 {
		t.Fatalf("expected one expiry entry, got %d in %+v", entries, sess.PreAuth)
	}
	auth, err := e.auths.GetBySession(ctx, sid)
	if err != nil || auth == nil || auth.Status != stores.StatusExpiredWithFailure {
		t.Fatalf("pending authentication must end with failure, got %+v err=%v", auth, err)
	}
}

func TestExpiredChallengesLoggedOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("swept", func(t *testing.T) {
		e, sid, _ := expiredLoginSetup(t)

		n, err := e.ExpiredChallenges(ctx, sid)
		if err != nil || n != 1 {
			t.Fatalf("expected one expired challenge, got %d err=%v", n, err)
		}
		if n, err := e.ExpiredChallenges(ctx, sid); err != nil || n != 0 {
			t.Fatalf("challenge must be logged once, got %d err=%v", n, err)
		}
		assertExpiredLogin(t, e, sid)
	})

	t.Run("logged by verification", func(t *testing.T) {
		e, sid, challengeID := expiredLoginSetup(t)

		if _, err := e.VerifyLoginOTP(ctx, sid, "ada", challengeID, "123456", "email"); !errors.Is(err, ErrOTPExpired) {
			t.Fatalf("expected ErrOTPExpired, got %v", err)
		}
		n, err := e.ExpiredChallenges(ctx, sid)
		if err != nil || n != 0 {
			t.Fatalf("verification already logged the expiry, got %d err=%v", n, err)
		}
		assertExpiredLogin(t, e, sid)
	})
}

func TestPasswordLifecycle(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	solo := te.addUser(t, "solo", "correct horse", "", "")
	ada := te.addUser(t, "ada", "correct horse", "ada@example.com", "")

	if _, err := te.ChangePassword(ctx, solo.GUID, "wrong horse", "battery staple"); !errors.Is(err, ErrOldPasswordMismatch) {
		t.Fatalf("expected ErrOldPasswordMismatch, got %v", err)
	}
	if _, err := te.ChangePassword(ctx, solo.GUID, "correct horse", "correct horse"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	res, err := te.ChangePassword(ctx, solo.GUID, "correct horse", "battery staple")
	if err != nil || res.Status == "" {
		t.Fatalf("change password: %+v err=%v", res, err)
	}
	te.passwordLogin(t, "solo", "battery staple")

	gated, err := te.ChangePassword(ctx, ada.GUID, "correct horse", "battery staple")
	if err != nil || gated.Status != "change with MFA" {
		t.Fatalf("users with a verified contact must go through MFA, got %+v err=%v", gated, err)
	}

	if _, err := te.ResetPassword(ctx, ada.GUID, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := te.ResetPassword(ctx, ada.GUID, "battery staple"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, err := te.DeletePassword(ctx, ada.GUID); err != nil {
		t.Fatalf("delete password: %v", err)
	}
	flow, err := te.HasPasswordFlow(ctx, "ada")
	if err != nil || flow.HasPassword {
		t.Fatalf("deleted password must be reported, got %+v err=%v", flow, err)
	}
}

func TestRecoveryFlow(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	master := te.addUser(t, "ada", "", "ada@example.com", "")
	sid := te.newSession(t)

	ticket, err := te.SendRecoveryOTP(ctx, sid, "ada", "email")
	if err != nil {
		t.Fatalf("send recovery: %v", err)
	}
	msg := te.nextMessage(t)
	if msg.Kind != notify.KindRecoveryOTP {
		t.Fatalf("unexpected message kind %s", msg.Kind)
	}

	act, err := te.VerifyRecoveryOTP(ctx, sid, "ada", ticket.ID, msg.Code)
	if err != nil || act.Status != "verified" || act.UserID != master.GUID {
		t.Fatalf("verify recovery: %+v err=%v", act, err)
	}
	if _, err := te.ResetPassword(ctx, master.GUID, "battery staple"); err != nil {
		t.Fatalf("reset after recovery: %v", err)
	}
}

func TestRecoverGLID(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "ada", "", "ada@example.com", "")
	sid := te.newSession(t)

	if _, err := te.RecoverGLID(ctx, sid, Channel("fax"), "x", ""); !errors.Is(err, ErrInvalidMFAType) {
		t.Fatalf("expected ErrInvalidMFAType, got %v", err)
	}
	if _, err := te.RecoverGLID(ctx, sid, ChannelEmail, "ADA@example.com", ""); err != nil {
		t.Fatalf("recover glid: %v", err)
	}
	msg := te.nextMessage(t)
	if msg.Kind != notify.KindGLIDReminder || msg.GLID != "ada" {
		t.Fatalf("unexpected reminder %+v", msg)
	}
}

func TestRegistrationFlow(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addUser(t, "taken", "", "taken@example.com", "")
	sid := te.newSession(t)

	if _, err := te.BeginRegistration(ctx, RegistrationRequest{SessionID: sid, GLID: "taken", Email: "x@example.com"}); !errors.Is(err, ErrGLIDUnavailable) {
		t.Fatalf("expected ErrGLIDUnavailable, got %v", err)
	}
	if exists, err := te.GLIDExists(ctx, "newbie"); err != nil || exists {
		t.Fatalf("newbie must be free, got %v err=%v", exists, err)
	}

	ticket, err := te.BeginRegistration(ctx, RegistrationRequest{
		SessionID: sid,
		GLID:      "newbie",
		Name:      "New Bie",
		Location:  "us",
		Email:     "newbie@example.com",
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	msg := te.nextMessage(t)
	if msg.Kind != notify.KindRegistrationOTP || msg.To != "newbie@example.com" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if _, err := te.CompleteRegistration(ctx, sid, ticket.ID); !errors.Is(err, ErrRegistrationIncomplete) {
		t.Fatalf("expected ErrRegistrationIncomplete, got %v", err)
	}

	wrong := "000000"
	if msg.Code == wrong {
		wrong = "111111"
	}
	status, err := te.VerifyRegistration(ctx, ticket.ID, "", wrong, "")
	if err != nil || !status.InvalidOTP {
		t.Fatalf("wrong code must be reported in the status, got %+v err=%v", status, err)
	}
	if _, err := te.VerifyRegistration(ctx, ticket.ID, "", "", "z"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}

	status, err = te.VerifyRegistration(ctx, ticket.ID, "", msg.Code, "")
	if err != nil || !status.EmailVerified || !status.Completed {
		t.Fatalf("verify registration: %+v err=%v", status, err)
	}
	polled, err := te.ChallengeStatus(ctx, ticket.ID)
	if err != nil || !polled.Completed || polled.MobileRequested {
		t.Fatalf("challenge status: %+v err=%v", polled, err)
	}

	act, err := te.CompleteRegistration(ctx, sid, ticket.ID)
	if err != nil || act.Tokens == nil {
		t.Fatalf("complete registration: %+v err=%v", act, err)
	}
	channels, err := te.VerifiedChannels(ctx, "newbie")
	if err != nil || len(channels) != 1 || channels[0] != ChannelEmail {
		t.Fatalf("registered user must have a verified email, got %v err=%v", channels, err)
	}
}

func TestPrelaunchGate(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	if err := te.ValidatePrelaunchPassword(ctx, "early bird"); !errors.Is(err, ErrPrelaunchDisabled) {
		t.Fatalf("expected ErrPrelaunchDisabled, got %v", err)
	}

	hasher, err := password.NewArgon2(password.Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash("early bird")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	gated := newTestEngine(t, func(c *Config) {
		c.Prelaunch = PrelaunchConfig{Enabled: true, PasswordHash: hash}
	})
	if err := gated.ValidatePrelaunchPassword(ctx, "early bird"); err != nil {
		t.Fatalf("expected valid prelaunch password, got %v", err)
	}
	if err := gated.ValidatePrelaunchPassword(ctx, "late worm"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if got := gated.metrics.Value(MetricPrelaunchRejected); got != 1 {
		t.Fatalf("expected one rejection, got %d", got)
	}
}

func TestAuditTrailCarriesRequestContext(t *testing.T) {
	te := newTestEngine(t, nil)
	te.addUser(t, "solo", "correct horse", "", "")

	ctx := WithRequestID(WithClientIP(context.Background(), "192.0.2.1"), "req-1")
	sid := te.newSession(t)
	if _, err := te.Login(ctx, sid, "solo", "wrong horse"); err == nil {
		t.Fatalf("expected login failure")
	}
	te.Close()

	var found bool
	for {
		select {
		case ev := <-te.audit.Events():
			if ev.EventType != auditEventLoginFailure {
				continue
			}
			found = true
			if ev.Success || ev.IP != "192.0.2.1" || ev.Metadata["request_id"] != "req-1" || ev.Error != string(auditErrInvalidCredentials) {
				t.Fatalf("unexpected audit event %+v", ev)
			}
			if ev.ID == "" || ev.SessionID != sid {
				t.Fatalf("audit event must carry id and session, got %+v", ev)
			}
		default:
			if !found {
				t.Fatalf("login failure was not audited")
			}
			return
		}
	}
}
