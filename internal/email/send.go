package email

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codr1/courtbook/internal/db"
)

const sendTimeout = 5 * time.Second

// EmailSender provides a testable abstraction over SES delivery.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject, body string) error
	SendFrom(ctx context.Context, recipient, subject, body, sender string) error
}

// ContactLookup resolves a user to their contact details.
type ContactLookup interface {
	GetUserContact(ctx context.Context, id int64) (db.UserContact, error)
}

func newEmailContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	// Detach cancellation so handler-scoped contexts don't abort async sends.
	parent = context.WithoutCancel(parent)
	return context.WithTimeout(parent, timeout)
}

// SendBookingEmail looks up the user's address and sends message
// asynchronously. The returned channel is closed once the send finishes, or
// immediately when there is nothing to send.
func SendBookingEmail(ctx context.Context, users ContactLookup, client EmailSender, userID int64, message Message, sender string, logger *zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	if client == nil || users == nil {
		close(done)
		return done
	}
	if userID <= 0 {
		if logger != nil {
			logger.Warn().Int64("user_id", userID).Msg("Skipping booking email with invalid user ID")
		}
		close(done)
		return done
	}
	if message.Subject == "" || message.Body == "" {
		close(done)
		return done
	}

	user, err := users.GetUserContact(ctx, userID)
	if err != nil {
		if logger != nil {
			logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to load user for booking email")
		}
		close(done)
		return done
	}
	recipient := strings.TrimSpace(user.Email)
	if recipient == "" {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		sendCtx, cancel := newEmailContext(ctx, sendTimeout)
		defer cancel()
		if err := client.SendFrom(sendCtx, recipient, message.Subject, message.Body, sender); err != nil && logger != nil {
			logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to send booking email")
		}
	}()
	return done
}
