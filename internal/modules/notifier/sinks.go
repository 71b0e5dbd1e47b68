package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Log.Info().
		Str("type", string(e.Type)).
		Int64("appointment_id", e.AppointmentRef).
		Int64("payment_id", e.PaymentRef).
		Interface("users", e.UserRefs).
		Msg(e.Subject)
	return nil
}

// PushSink publishes events on a per-user Redis channel that the push
// gateway fans out to devices.
type PushSink struct {
	client *redis.Client
	prefix string
}

func NewPushSink(client *redis.Client, prefix string) *PushSink {
	if prefix == "" {
		prefix = "notifications:user:"
	}
	return &PushSink{client: client, prefix: prefix}
}

func (*PushSink) Name() string { return "push" }

func (s *PushSink) Deliver(ctx context.Context, e Event) error {
	if len(e.UserRefs) == 0 {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	for _, u := range e.UserRefs {
		if err := s.client.Publish(ctx, fmt.Sprintf("%s%d", s.prefix, u), payload).Err(); err != nil {
			return fmt.Errorf("publish to user %d: %w", u, err)
		}
	}
	return nil
}

type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSink mails events that carry explicit recipients, such as
// reconciliation alerts to clinic staff.
type EmailSink struct {
	sender MailSender
	from   string
}

func NewEmailSink(cfg SMTPConfig) *EmailSink {
	return &EmailSink{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func NewEmailSinkWithSender(sender MailSender, from string) *EmailSink {
	return &EmailSink{sender: sender, from: from}
}

func (*EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(_ context.Context, e Event) error {
	if len(e.Emails) == 0 {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", e.Emails...)
	m.SetHeader("Subject", e.Subject)
	m.SetBody("text/plain", e.Body)
	return s.sender.DialAndSend(m)
}

// MemorySink keeps delivered events; used by tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (*MemorySink) Name() string { return "memory" }

func (s *MemorySink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Recorder is a synchronous Notifier for tests.
type Recorder struct {
	MemorySink
}

func (r *Recorder) Notify(e Event) {
	_ = r.Deliver(context.Background(), e)
}
