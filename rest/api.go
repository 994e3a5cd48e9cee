package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

// DefaultPageSize is used when a Pagination has no limit.
const DefaultPageSize = 25

// Page is one fetched page. HasMore is false once the server returned fewer
// items than requested.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

func newPage[T any](items []T, limit int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, HasMore: len(items) >= limit}
}

// Pagination selects a page. IDLT fetches items older than the given id.
type Pagination struct {
	Limit  int
	Offset int
	IDLT   string
}

func (p Pagination) limit() int {
	if p.Limit <= 0 {
		return DefaultPageSize
	}
	return p.Limit
}

// ChannelState is a channel with the first page of its content.
type ChannelState struct {
	Channel  model.Channel   `json:"channel"`
	Messages []model.Message `json:"messages"`
	Members  []model.Member  `json:"members"`
	Watchers []model.User    `json:"watchers"`
}

// ChannelQuery filters and sorts the channel list.
type ChannelQuery struct {
	Filter       map[string]any `json:"filter_conditions,omitempty"`
	Sort         []SortOption   `json:"sort,omitempty"`
	Watch        bool           `json:"watch"`
	Presence     bool           `json:"presence"`
	MessageLimit int            `json:"message_limit,omitempty"`
	Pagination   Pagination     `json:"-"`
}

// SortOption orders query results. Direction is 1 or -1.
type SortOption struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

type channelQueryRequest struct {
	ChannelQuery
	Limit  int `json:"limit"`
	Offset int `json:"offset,omitempty"`
}

// QueryChannels returns a page of channels with their initial state.
func (c *Client) QueryChannels(ctx context.Context, q ChannelQuery) (Page[ChannelState], error) {
	limit := q.Pagination.limit()
	var resp struct {
		Channels []ChannelState `json:"channels"`
	}
	req := channelQueryRequest{ChannelQuery: q, Limit: limit, Offset: q.Pagination.Offset}
	if err := c.do(ctx, errors.OpFetch, http.MethodPost, "/channels", nil, req, &resp); err != nil {
		return Page[ChannelState]{}, err
	}
	for i := range resp.Channels {
		fillChannel(&resp.Channels[i])
	}
	return newPage(resp.Channels, limit), nil
}

func fillChannel(s *ChannelState) {
	ch := &s.Channel
	if ch.CID == "" && ch.Type != "" && ch.ID != "" {
		ch.CID = model.NewCID(ch.Type, ch.ID)
	}
	for i := range s.Messages {
		if s.Messages[i].CID == "" {
			s.Messages[i].CID = ch.CID
		}
	}
	for i := range s.Members {
		if s.Members[i].CID == "" {
			s.Members[i].CID = ch.CID
		}
	}
}

func channelPath(cid model.CID) (string, error) {
	if _, err := model.ParseCID(string(cid)); err != nil {
		return "", err
	}
	return fmt.Sprintf("/channels/%s/%s", url.PathEscape(cid.Type()), url.PathEscape(cid.ID())), nil
}

// GetMessages returns a page of a channel's messages.
func (c *Client) GetMessages(ctx context.Context, cid model.CID, p Pagination) (Page[model.Message], error) {
	path, err := channelPath(cid)
	if err != nil {
		return Page[model.Message]{}, errors.NewValidationError(errors.OpFetch, err)
	}
	limit := p.limit()
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if p.IDLT != "" {
		query.Set("id_lt", p.IDLT)
	}
	if p.Offset > 0 {
		query.Set("offset", strconv.Itoa(p.Offset))
	}

	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, errors.OpFetch, http.MethodGet, path+"/messages", query, nil, &resp); err != nil {
		return Page[model.Message]{}, err
	}
	for i := range resp.Messages {
		if resp.Messages[i].CID == "" {
			resp.Messages[i].CID = cid
		}
	}
	return newPage(resp.Messages, limit), nil
}

type sendMessageRequest struct {
	Message struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		ParentID string `json:"parent_id,omitempty"`
	} `json:"message"`
}

// SendMessage posts msg. The client generated id makes the call idempotent
// so retries never create duplicates.
func (c *Client) SendMessage(ctx context.Context, cid model.CID, msg model.Message) (model.Message, error) {
	path, err := channelPath(cid)
	if err != nil {
		return model.Message{}, errors.NewValidationError(errors.OpSend, err)
	}
	var req sendMessageRequest
	req.Message.ID = msg.ID
	req.Message.Text = msg.Text
	req.Message.ParentID = msg.ParentID

	var resp struct {
		Message model.Message `json:"message"`
	}
	if err := c.do(ctx, errors.OpSend, http.MethodPost, path+"/message", nil, req, &resp); err != nil {
		return model.Message{}, err
	}
	if resp.Message.CID == "" {
		resp.Message.CID = cid
	}
	return resp.Message, nil
}
