package sharing

import (
	"context"
	"errors"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/models"
	"calshare/internal/recipient"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// State is the answer of a status check.
type State string

const (
	NotShared         State = "not_shared"
	Active            State = "active"
	Accepted          State = "accepted"
	Rejected          State = "rejected"
	Error             State = "error"
	MaxRetriesReached State = "max_retries_reached"
)

// Retryable reports whether a caller may offer to check again.
func (s State) Retryable() bool {
	return s == Error || s == MaxRetriesReached
}

// StatusResult is the outcome of one status check.
type StatusResult struct {
	Phone        string
	RecipientKey string
	State        State
	Entry        *models.ShareEntry
	Attempts     int
	Err          error
}

// CheckStatus reports the state of the session user's share to
// recipientPhone. Transport failures are retried with a fixed delay up to
// MaxAttempts; other failures end the check at once.
func (r *Registry) CheckStatus(ctx context.Context, sess models.Session, recipientPhone string) StatusResult {
	res := StatusResult{Phone: recipientPhone, RecipientKey: recipient.Phone(recipientPhone)}
	if res.RecipientKey == "" {
		res.State = Error
		res.Err = apperr.Validation("sharing.CheckStatus", "recipient phone %q has no digits", recipientPhone)
		return res
	}

	var grant *models.ShareGrant
	operation := func() error {
		res.Attempts++
		g, err := r.store.GetShares(ctx, res.RecipientKey)
		if err == nil || errors.Is(err, apperr.ErrNotFound) {
			grant = g
			return nil
		}
		if errors.Is(err, apperr.ErrTransport) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.RetryDelay), uint64(r.opts.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("Share status check failed, retrying.", "recipient", res.RecipientKey,
			"attempt", res.Attempts, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		res.Err = err
		res.State = Error
		if errors.Is(err, apperr.ErrTransport) && res.Attempts >= r.opts.MaxAttempts {
			res.State = MaxRetriesReached
		}
		r.logger.Warn("Share status check failed.", "recipient", res.RecipientKey, "attempts", res.Attempts,
			"state", res.State, "error", err)
		return res
	}

	if grant == nil {
		res.State = NotShared
		return res
	}
	i := grant.Find(sess.UserID)
	if i < 0 {
		res.State = NotShared
		return res
	}
	entry := grant.Entries[i]
	res.Entry = &entry
	switch entry.Status {
	case models.ShareAccepted:
		res.State = Accepted
	case models.ShareRejected:
		res.State = Rejected
	default:
		res.State = Active
	}
	return res
}

// CheckAll checks every phone concurrently. Results keep the input order.
func (r *Registry) CheckAll(ctx context.Context, sess models.Session, phones []string) []StatusResult {
	out := make([]StatusResult, len(phones))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, phone := range phones {
		g.Go(func() error {
			out[i] = r.CheckStatus(ctx, sess, phone)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
