package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/perkapp/settlement-service/internal/cooldown"
)

// Template names understood by the push transport.
const (
	TemplateTxCompleted         = "tx_completed"
	TemplatePleaseUpgrade       = "please_upgrade"
	TemplateCountryNotSupported = "country_not_supported"
)

// Sender is the push transport. Out of scope for this service: the
// production implementation lives behind this interface and its failures
// are logged, never propagated.
type Sender interface {
	Send(ctx context.Context, userID, template string, data map[string]any) error
}

// Notifier delivers per-user pushes. The low-stakes nag classes (upgrade,
// unsupported country) run through the cooldown gate so a burst of requests
// cannot flood a user with duplicate pushes.
type Notifier struct {
	sender          Sender
	gate            *cooldown.Gate
	logger          *slog.Logger
	upgradeCooldown time.Duration
	countryCooldown time.Duration
}

func NewNotifier(sender Sender, gate *cooldown.Gate, upgradeCooldown, countryCooldown time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:          sender,
		gate:            gate,
		logger:          logger,
		upgradeCooldown: upgradeCooldown,
		countryCooldown: countryCooldown,
	}
}

// TxCompleted tells the user their payment landed. Best effort, not gated:
// every completed settlement is worth one push.
func (n *Notifier) TxCompleted(ctx context.Context, userID, reference, operationID string, amount int64, eventKey string) {
	n.send(ctx, userID, TemplateTxCompleted, map[string]any{
		"push_id":      uuid.NewString(),
		"reference":    reference,
		"operation_id": operationID,
		"amount":       amount,
		"event_key":    eventKey,
	})
}

// PleaseUpgrade nags the user to update the app, at most once per window.
func (n *Notifier) PleaseUpgrade(ctx context.Context, userID string) {
	n.gated(ctx, userID, TemplatePleaseUpgrade, "plsupgr:"+userID, n.upgradeCooldown)
}

// CountryNotSupported tells the user the service is unavailable in their
// country, at most once per window.
func (n *Notifier) CountryNotSupported(ctx context.Context, userID string) {
	n.gated(ctx, userID, TemplateCountryNotSupported, "countrynot:"+userID, n.countryCooldown)
}

func (n *Notifier) gated(ctx context.Context, userID, template, marker string, window time.Duration) {
	allowed, err := n.gate.TryFire(ctx, marker, window)
	if err != nil {
		// Fail closed: better to drop a nag than to flood on a flaky store.
		n.logger.Error("cooldown check failed, suppressing push",
			"user_id", userID, "template", template, "error", err)
		return
	}
	if !allowed {
		return
	}
	n.send(ctx, userID, template, map[string]any{"push_id": uuid.NewString()})
}

func (n *Notifier) send(ctx context.Context, userID, template string, data map[string]any) {
	if err := n.sender.Send(ctx, userID, template, data); err != nil {
		n.logger.Warn("push send failed",
			"user_id", userID, "template", template, "error", err)
	}
}

// LogSender is the development transport: it just logs the push.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, userID, template string, data map[string]any) error {
	s.logger.Info("push", "user_id", userID, "template", template, "data", data)
	return nil
}
