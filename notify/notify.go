// Package notify delivers one-time codes, magic links, and GLID reminders.
//
// Delivery is fire-and-forget from the engine's point of view: a Dispatcher
// queues messages and hands them to a Notifier on a background goroutine,
// logging failures instead of returning them.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind selects the template of a message.
type Kind string

const (
	KindLoginOTP        Kind = "login_otp"
	KindRecoveryOTP     Kind = "recovery_otp"
	KindRegistrationOTP Kind = "registration_otp"
	KindGLIDReminder    Kind = "glid_reminder"
)

// Delivery is the transport a message goes out on.
type Delivery string

const (
	DeliveryEmail Delivery = "email"
	DeliverySMS   Delivery = "sms"
	DeliveryCall  Delivery = "call"
)

// Message is one outbound notification.
type Message struct {
	Kind      Kind
	Delivery  Delivery
	To        string
	DialCode  string
	Name      string
	GLID      string
	Code      string
	Link      string
	ExpiresIn time.Duration
	Language  string
}

// Recipient returns the dialable or mailable address of m.
func (m Message) Recipient() string {
	if m.Delivery == DeliveryEmail || m.DialCode == "" {
		return m.To
	}
	return m.DialCode + m.To
}

// Notifier sends a message synchronously.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// ErrNoTransport is returned by Sender when no function serves a delivery.
var ErrNoTransport = errors.New("notify: no transport for delivery")

// SendFunc sends a rendered message to one recipient.
type SendFunc func(ctx context.Context, to, subject, body string) error

// Sender renders messages with Templates and routes them by delivery.
type Sender struct {
	Templates *Templates
	Email     SendFunc
	SMS       SendFunc
	Call      SendFunc
}

func (s *Sender) Notify(ctx context.Context, msg Message) error {
	var send SendFunc
	switch msg.Delivery {
	case DeliveryEmail:
		send = s.Email
	case DeliverySMS:
		send = s.SMS
	case DeliveryCall:
		send = s.Call
	}
	if send == nil {
		return ErrNoTransport
	}

	tmpl := s.Templates
	if tmpl == nil {
		tmpl = DefaultTemplates()
	}
	subject, body, err := tmpl.Render(msg)
	if err != nil {
		return err
	}
	return send(ctx, msg.Recipient(), subject, body)
}
