package email

import "context"

// Sender delivers transactional email (password resets, account notices).
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
