package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
	"github.com/c0deZ3R0/go-chatsync-kit/task"
)

// SendOption configures one SendMessage call.
type SendOption func(*model.Message)

// InThread posts the message as a reply to parentID.
func InThread(parentID string) SendOption {
	return func(m *model.Message) { m.ParentID = parentID }
}

// WithMessageID overrides the generated message id.
func WithMessageID(id string) SendOption {
	return func(m *model.Message) { m.ID = id }
}

// NewMessageID returns a lexically sortable id for a locally created message.
func NewMessageID() string {
	return ulid.Make().String()
}

// SendMessage stores text as a local message, posts it through the serial
// outbox and waits until the server echoes it back as message.new. While no
// socket is open the REST response is taken as the confirmation.
//
// Retryable failures are retried with backoff. If every attempt fails the
// local copy is marked sendingFailed and can be retried with ResendMessage.
func (c *Client) SendMessage(ctx context.Context, cid model.CID, text string, opts ...SendOption) (model.Message, error) {
	if _, err := model.ParseCID(string(cid)); err != nil {
		return model.Message{}, errors.NewValidationError(errors.OpSend, err)
	}
	now := time.Now().UTC()
	msg := model.Message{
		ID:         NewMessageID(),
		CID:        cid,
		UserID:     c.userID,
		Text:       text,
		Type:       "regular",
		CreatedAt:  now,
		UpdatedAt:  now,
		LocalState: model.LocalStatePendingSend,
	}
	for _, opt := range opts {
		opt(&msg)
	}
	return c.send(ctx, msg)
}

// ResendMessage retries a message left in the sendingFailed state.
func (c *Client) ResendMessage(ctx context.Context, id string) (model.Message, error) {
	msg, ok, err := c.store.Message(ctx, id)
	if err != nil {
		return model.Message{}, err
	}
	if !ok {
		return model.Message{}, errors.E(errors.OpSend, errors.Component("client"), errors.KindNotFound,
			errors.ErrCodeValidationFailure, fmt.Sprintf("message %s not found", id))
	}
	if msg.LocalState != model.LocalStateSendingFailed {
		return model.Message{}, errors.NewValidationError(errors.OpSend,
			fmt.Errorf("message %s is not in the failed state", id))
	}
	msg.LocalState = model.LocalStatePendingSend
	return c.send(ctx, msg)
}

func (c *Client) send(ctx context.Context, msg model.Message) (model.Message, error) {
	if c.isClosed() {
		return model.Message{}, ErrClientClosed
	}
	if err := c.setLocalState(ctx, msg, msg.LocalState); err != nil {
		return model.Message{}, err
	}
	logger := c.logger.WithOperation(errors.OpSend)

	return c.sends.Await(ctx, msg.ID, c.opts.pendingTimeout, func() error {
		var mu sync.Mutex
		var lastErr error
		var sent bool

		t := task.New(c.opts.sendRetries, func(ctx context.Context, complete func(task.Outcome)) {
			if err := c.setLocalState(ctx, msg, model.LocalStateSending); err != nil {
				logger.Warn("marking message as sending", slog.String("error", err.Error()))
			}
			confirmed, err := c.api.SendMessage(ctx, msg.CID, msg)
			mu.Lock()
			lastErr = err
			sent = err == nil
			mu.Unlock()
			if err != nil {
				logger.Debug("send attempt failed",
					slog.String("message_id", msg.ID),
					slog.Bool("retryable", errors.IsRetryable(err)),
					slog.String("error", err.Error()),
				)
				if errors.IsRetryable(err) && ctx.Err() == nil {
					complete(task.Retry)
					return
				}
				complete(task.ContinueToCompletion)
				return
			}
			c.confirmFromResponse(ctx, msg, confirmed)
			complete(task.ContinueToCompletion)
		}, task.WithName("send:"+msg.ID), task.WithBackoff(c.opts.sendBackoff), task.WithLogger(c.opts.logger))

		go func() {
			<-t.Done()
			mu.Lock()
			ok, err := sent, lastErr
			mu.Unlock()
			if ok {
				return
			}
			if err == nil {
				err = errors.NewCancellationError(msg.ID, context.Canceled)
			}
			bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := c.setLocalState(bg, msg, model.LocalStateSendingFailed); serr != nil {
				logger.Warn("marking message as failed", slog.String("error", serr.Error()))
			}
			logger.LogError(bg, err, "message not sent", slog.String("message_id", msg.ID))
			c.sends.Fail(msg.ID, err)
		}()
		return c.outbox.Enqueue(t)
	})
}

// confirmFromResponse stores the server's copy of a sent message. Without
// an open socket no message.new will follow, so the caller is released
// right away.
func (c *Client) confirmFromResponse(ctx context.Context, local, confirmed model.Message) {
	if confirmed.ID == "" {
		confirmed.ID = local.ID
	}
	if confirmed.CID == "" {
		confirmed.CID = local.CID
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = local.CreatedAt
	}
	confirmed.LocalState = model.LocalStateNone
	err := c.store.Write(ctx, func(sess storage.Session) error {
		return sess.UpsertMessages(ctx, confirmed)
	})
	if err != nil {
		c.logger.Warn("storing sent message", slog.String("message_id", confirmed.ID), slog.String("error", err.Error()))
	}
	if !c.State().IsConnected() {
		c.sends.Resolve(confirmed.ID, confirmed)
	}
}

// setLocalState persists msg with state unless the server already
// confirmed it.
func (c *Client) setLocalState(ctx context.Context, msg model.Message, state model.LocalState) error {
	return c.store.Write(ctx, func(sess storage.Session) error {
		current, ok, err := sess.Message(ctx, msg.ID)
		if err != nil {
			return err
		}
		if ok && current.LocalState == model.LocalStateNone {
			return nil
		}
		msg.LocalState = state
		return sess.UpsertMessages(ctx, msg)
	})
}
