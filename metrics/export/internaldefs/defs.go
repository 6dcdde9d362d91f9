package internaldefs

import (
	"github.com/MrEthical07/glidauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   glidauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   glidauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: glidauth.MetricSessionCreated, Name: "glidauth_session_created_total", Help: "Sessions created."},
	{ID: glidauth.MetricSessionReused, Name: "glidauth_session_reused_total", Help: "Session creations answered with the caller's live session."},
	{ID: glidauth.MetricLoginSuccess, Name: "glidauth_login_success_total", Help: "Logins that activated a session."},
	{ID: glidauth.MetricLoginFailure, Name: "glidauth_login_failure_total", Help: "Failed password logins."},
	{ID: glidauth.MetricMFARequired, Name: "glidauth_mfa_required_total", Help: "Password logins that require a second factor."},
	{ID: glidauth.MetricOTPSent, Name: "glidauth_otp_sent_total", Help: "Login challenges issued."},
	{ID: glidauth.MetricOTPVerified, Name: "glidauth_otp_verified_total", Help: "Login codes verified."},
	{ID: glidauth.MetricOTPFailure, Name: "glidauth_otp_failure_total", Help: "Login code verifications that failed."},
	{ID: glidauth.MetricOTPExpired, Name: "glidauth_otp_expired_total", Help: "Codes submitted or found after their window."},
	{ID: glidauth.MetricMagicLinkSuccess, Name: "glidauth_magic_link_success_total", Help: "Sessions activated by a magic link."},
	{ID: glidauth.MetricMagicLinkFailure, Name: "glidauth_magic_link_failure_total", Help: "Rejected magic links."},
	{ID: glidauth.MetricSessionActivated, Name: "glidauth_session_activated_total", Help: "Sessions that became Active."},
	{ID: glidauth.MetricRefreshSuccess, Name: "glidauth_refresh_success_total", Help: "Token pairs rotated."},
	{ID: glidauth.MetricRefreshFailure, Name: "glidauth_refresh_failure_total", Help: "Rejected refresh requests."},
	{ID: glidauth.MetricLogout, Name: "glidauth_logout_total", Help: "Sessions ended by their owner."},
	{ID: glidauth.MetricSessionClosed, Name: "glidauth_session_closed_total", Help: "Sessions closed from another session."},
	{ID: glidauth.MetricCloseAll, Name: "glidauth_close_all_total", Help: "Close-all-sessions operations."},
	{ID: glidauth.MetricSessionTimeout, Name: "glidauth_session_timeout_total", Help: "Sessions expired for inactivity."},
	{ID: glidauth.MetricPasswordChangeSuccess, Name: "glidauth_password_change_success_total", Help: "Passwords changed."},
	{ID: glidauth.MetricPasswordChangeFailure, Name: "glidauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: glidauth.MetricPasswordReset, Name: "glidauth_password_reset_total", Help: "Passwords reset after recovery."},
	{ID: glidauth.MetricPasswordDeleted, Name: "glidauth_password_deleted_total", Help: "Passwords removed."},
	{ID: glidauth.MetricRecoveryRequested, Name: "glidauth_recovery_requested_total", Help: "Recovery challenges issued."},
	{ID: glidauth.MetricRecoverySuccess, Name: "glidauth_recovery_success_total", Help: "Recovery codes verified."},
	{ID: glidauth.MetricRecoveryFailure, Name: "glidauth_recovery_failure_total", Help: "Recovery code verifications that failed."},
	{ID: glidauth.MetricGLIDReminderSent, Name: "glidauth_glid_reminder_sent_total", Help: "GLID reminders sent."},
	{ID: glidauth.MetricRegistrationStarted, Name: "glidauth_registration_started_total", Help: "Registrations started."},
	{ID: glidauth.MetricRegistrationVerified, Name: "glidauth_registration_verified_total", Help: "Registration channels verified."},
	{ID: glidauth.MetricRegistrationCompleted, Name: "glidauth_registration_completed_total", Help: "Registrations completed."},
	{ID: glidauth.MetricRegistrationFailure, Name: "glidauth_registration_failure_total", Help: "Rejected registration requests."},
	{ID: glidauth.MetricAuthorizeAllowed, Name: "glidauth_authorize_allowed_total", Help: "Requests admitted by the authorization gate."},
	{ID: glidauth.MetricAuthorizeDenied, Name: "glidauth_authorize_denied_total", Help: "Requests rejected by the authorization gate."},
	{ID: glidauth.MetricPrelaunchRejected, Name: "glidauth_prelaunch_rejected_total", Help: "Wrong prelaunch passwords."},
	{ID: glidauth.MetricNotifyDropped, Name: "glidauth_notify_dropped_total", Help: "Notifications dropped because the queue was full."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: glidauth.MetricAuthorizeLatency, Name: "glidauth_authorize_latency_seconds", Help: "Authorization gate latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "glidauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBounds are the upper bounds in seconds of the first seven
// buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
