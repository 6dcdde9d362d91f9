package stores

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/glidauth/internal"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func newChallengeStoreTest(t *testing.T) (*ChallengeStore, *stepClock) {
	t.Helper()
	_, rdb := newTestRedis(t)
	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	store := NewChallengeStore(rdb, "gc", 5*time.Minute, 6, 24*time.Hour)
	store.SetClock(clock.Now)
	return store, clock
}

func loginRequest() IssueRequest {
	return IssueRequest{
		SessionID: "s1",
		UserID:    "u1",
		GLID:      "ab12",
		Module:    ModuleLogin,
		Reason:    "MFA-login",
		Email:     &Target{Address: "a@example.com", Delivery: "email"},
		LinkBase:  "https://id.example.com/en/login/confirm?ref=auth-1",
	}
}

func TestIssueIsIdempotentInsideWindow(t *testing.T) {
	store, clock := newChallengeStoreTest(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, loginRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first.Reused || len(first.Codes[ChannelEmail]) != 6 {
		t.Fatalf("unexpected first issuance: %+v", first)
	}
	if want := clock.now.Add(5 * time.Minute); !first.Challenge.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", first.Challenge.ExpiresAt, want)
	}

	clock.now = clock.now.Add(4 * time.Minute)
	second, err := store.Issue(ctx, loginRequest())
	if err != nil {
		t.Fatalf("Issue again: %v", err)
	}
	if !second.Reused || second.Challenge.ID != first.Challenge.ID || len(second.Codes) != 0 {
		t.Fatalf("expected reuse of %s, got %+v", first.Challenge.ID, second)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	third, err := store.Issue(ctx, loginRequest())
	if err != nil {
		t.Fatalf("Issue after window: %v", err)
	}
	if third.Reused || third.Challenge.ID == first.Challenge.ID {
		t.Fatalf("expected a fresh challenge after expiry")
	}
}

func TestIssueDistinguishesReasonAndChannel(t *testing.T) {
	store, _ := newChallengeStoreTest(t)
	ctx := context.Background()

	a, _ := store.Issue(ctx, loginRequest())

	other := loginRequest()
	other.Reason = "forgot-password"
	b, _ := store.Issue(ctx, other)

	mobile := loginRequest()
	mobile.Email = nil
	mobile.Mobile = &Target{Address: "5550100", DialCode: "+1", Delivery: "sms"}
	c, _ := store.Issue(ctx, mobile)

	if a.Challenge.ID == b.Challenge.ID || a.Challenge.ID == c.Challenge.ID {
		t.Fatalf("distinct requests must not share a challenge")
	}
	if c.Challenge.Mobile.Delivery != "sms" || c.Challenge.Email.Requested() {
		t.Fatalf("unexpected mobile challenge: %+v", c.Challenge)
	}
}

func TestIssueBuildsChannelLinks(t *testing.T) {
	store, _ := newChallengeStoreTest(t)

	issued, err := store.Issue(context.Background(), loginRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	link := issued.Challenge.Email.Link
	if !strings.HasPrefix(link, "https://id.example.com/en/login/confirm?ref=auth-1&") {
		t.Fatalf("unexpected link %q", link)
	}
	for _, part := range []string{"mode=e", "guid=" + issued.Challenge.ID, "exp="} {
		if !strings.Contains(link, part) {
			t.Fatalf("link %q missing %q", link, part)
		}
	}
}

func TestVerifyCodeSingleUse(t *testing.T) {
	store, _ := newChallengeStoreTest(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, loginRequest())
	code := issued.Codes[ChannelEmail]
	id := issued.Challenge.ID

	if err := store.VerifyCode(ctx, id, wrongCode(code), ChannelEmail); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	got, _ := store.Get(ctx, id)
	if got.Email.Verified {
		t.Fatalf("wrong code must not verify")
	}

	if err := store.VerifyCode(ctx, id, code, ChannelEmail); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if err := store.VerifyCode(ctx, id, code, ChannelEmail); !errors.Is(err, ErrChallengeUsed) {
		t.Fatalf("replay must fail with ErrChallengeUsed, got %v", err)
	}
}

func TestVerifyCodeExpiryWins(t *testing.T) {
	store, clock := newChallengeStoreTest(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, loginRequest())
	clock.now = issued.Challenge.ExpiresAt.Add(time.Millisecond)

	err := store.VerifyCode(ctx, issued.Challenge.ID, issued.Codes[ChannelEmail], ChannelEmail)
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestVerifyCodeUnknownChannelOrChallenge(t *testing.T) {
	store, _ := newChallengeStoreTest(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, loginRequest())
	if err := store.VerifyCode(ctx, issued.Challenge.ID, issued.Codes[ChannelEmail], ChannelMobile); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("unrequested channel: got %v", err)
	}
	if err := store.VerifyCode(ctx, "missing", "123456", ChannelEmail); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("missing challenge: got %v", err)
	}
}

func TestVerifyLinkIndependentOfCode(t *testing.T) {
	store, clock := newChallengeStoreTest(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, loginRequest())
	id := issued.Challenge.ID

	if err := store.VerifyCode(ctx, id, issued.Codes[ChannelEmail], ChannelEmail); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if err := store.VerifyLink(ctx, id, ChannelEmail); err != nil {
		t.Fatalf("VerifyLink after code: %v", err)
	}
	if err := store.VerifyLink(ctx, id, ChannelEmail); !errors.Is(err, ErrChallengeUsed) {
		t.Fatalf("second link click: got %v", err)
	}

	other, _ := store.Issue(ctx, IssueRequest{
		SessionID: "s2", UserID: "u1", Module: ModuleLogin, Reason: "MFA-login",
		Email: &Target{Address: "a@example.com"},
	})
	clock.now = other.Challenge.ExpiresAt.Add(time.Second)
	if err := store.VerifyLink(ctx, other.Challenge.ID, ChannelEmail); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expired link: got %v", err)
	}
}

func TestVerifyAnyCodeGuardsEachChannel(t *testing.T) {
	store, _ := newChallengeStoreTest(t)
	ctx := context.Background()

	req := IssueRequest{
		SessionID: "s1", GLID: "new1", Module: ModuleRegistration, Reason: "registration",
		Email:  &Target{Address: "n@example.com"},
		Mobile: &Target{Address: "5550100", DialCode: "+1", Delivery: "sms"},
	}
	issued, err := store.Issue(ctx, req)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id := issued.Challenge.ID

	// Force both channels onto the same code.
	same := issued.Codes[ChannelEmail]
	if err := store.redis.HSet(ctx, store.key(id), "mobile_otp", internal.TokenDigest(same)).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ch, err := store.VerifyAnyCode(ctx, id, same)
	if err != nil || ch != ChannelEmail {
		t.Fatalf("first match = %q, %v", ch, err)
	}
	got, _ := store.Get(ctx, id)
	if got.Mobile.Verified {
		t.Fatalf("verifying email must not verify mobile")
	}
	ch, err = store.VerifyAnyCode(ctx, id, same)
	if err != nil || ch != ChannelMobile {
		t.Fatalf("second match = %q, %v", ch, err)
	}
	if _, err := store.VerifyAnyCode(ctx, id, same); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("third use must fail, got %v", err)
	}
	got, _ = store.Get(ctx, id)
	if !got.Completed() {
		t.Fatalf("challenge should be completed: %+v", got)
	}
}

func TestResolveMagicLinkSessionAndForSession(t *testing.T) {
	store, _ := newChallengeStoreTest(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, loginRequest())
	id, err := store.ResolveMagicLinkSession(ctx, issued.Challenge.MagicLinkSession)
	if err != nil || id != issued.Challenge.ID {
		t.Fatalf("ResolveMagicLinkSession = %q, %v", id, err)
	}
	if id, _ := store.ResolveMagicLinkSession(ctx, "unknown"); id != "" {
		t.Fatalf("unknown correlator resolved to %q", id)
	}

	list, err := store.ForSession(ctx, "s1")
	if err != nil || len(list) != 1 || list[0].ID != issued.Challenge.ID {
		t.Fatalf("ForSession = %+v, %v", list, err)
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestMarkExpiryLoggedOnce(t *testing.T) {
	store, _ := newChallengeStoreTest(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, loginRequest())
	first, err := store.MarkExpiryLogged(ctx, issued.Challenge.ID)
	if err != nil || !first {
		t.Fatalf("first mark = %v, %v", first, err)
	}
	second, err := store.MarkExpiryLogged(ctx, issued.Challenge.ID)
	if err != nil || second {
		t.Fatalf("second mark = %v, %v", second, err)
	}
}
