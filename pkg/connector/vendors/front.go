package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const frontPageSize = 100

type frontPagination struct {
	Next *string `json:"next"`
}

type frontList[T any] struct {
	Results    []T             `json:"_results"`
	Pagination frontPagination `json:"_pagination"`
}

func (l frontList[T]) next() string {
	if l.Pagination.Next == nil {
		return ""
	}
	return *l.Pagination.Next
}

type frontHandle struct {
	ID     ID     `json:"id"`
	Email  string `json:"email"`
	Handle string `json:"handle"`
}

type frontConversation struct {
	ID          ID           `json:"id"`
	Subject     string       `json:"subject"`
	Status      string       `json:"status"`
	Assignee    *frontHandle `json:"assignee"`
	Recipient   *frontHandle `json:"recipient"`
	Tags        []namedTag   `json:"tags"`
	CreatedAt   Timestamp    `json:"created_at"`
	UpdatedAt   Timestamp    `json:"updated_at"`
	LastMessage *struct {
		CreatedAt Timestamp `json:"created_at"`
	} `json:"last_message"`
}

func (c frontConversation) updated() Timestamp {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.CreatedAt.Time) {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

type frontMessage struct {
	ID        ID           `json:"id"`
	Type      string       `json:"type"`
	IsInbound bool         `json:"is_inbound"`
	Body      string       `json:"body"`
	Text      string       `json:"text"`
	Author    *frontHandle `json:"author"`
	CreatedAt Timestamp    `json:"created_at"`
}

// Front pages conversations with opaque page tokens returned inside
// absolute _pagination.next links.
type Front struct {
	hw highWater
}

// NewFront returns a Front adapter for one cycle
func NewFront() Adapter { return &Front{} }

// FetchPage implements Adapter
func (a *Front) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	path := pageToken
	var opts *client.RequestOptions
	if path == "" {
		path = "/conversations"
		q := url.Values{}
		q.Set("limit", itoa(frontPageSize))
		opts = &client.RequestOptions{Query: q}
	}

	var list frontList[frontConversation]
	if err := r.RequestInto(ctx, path, opts, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, c := range list.Results {
		updated := c.updated().Time
		a.hw.observe(updated)
		if !changedSince(updated, cursor) {
			continue
		}
		id := c.ID.String()
		t := models.Ticket{
			ExternalID: id,
			Source:     source.Front.String(),
			Subject:    c.Subject,
			Status:     c.Status,
			CreatedAt:  c.CreatedAt.Time,
			UpdatedAt:  updated,
			Raw:        raw(c),
		}
		if c.Recipient != nil {
			t.Requester = c.Recipient.Handle
		}
		if c.Assignee != nil {
			t.Assignee = c.Assignee.Email
		}
		for _, tag := range c.Tags {
			t.Tags = append(t.Tags, tag.Name)
		}
		out.Tickets = append(out.Tickets, t)

		msgPath := "/conversations/" + url.PathEscape(id) + "/messages"
		err := followPages(source.Front.String(), "messages of conversation "+id, msgPath, func(path string) (string, error) {
			var msgs frontList[frontMessage]
			if err := r.RequestInto(ctx, path, nil, &msgs); err != nil {
				return "", err
			}
			for _, m := range msgs.Results {
				body := m.Text
				if body == "" {
					body = m.Body
				}
				msg := models.Message{
					ExternalID:       m.ID.String(),
					TicketExternalID: id,
					Source:           source.Front.String(),
					Body:             body,
					Public:           true,
					CreatedAt:        m.CreatedAt.Time,
					Raw:              raw(m),
				}
				if m.Author != nil {
					msg.Author = m.Author.Email
				}
				out.Messages = append(out.Messages, msg)
			}
			return msgs.next(), nil
		})
		if err != nil {
			return nil, err
		}
	}

	if next := list.next(); next != "" && len(list.Results) > 0 {
		out.Next = next
	} else {
		out.Cursor = a.hw.cursor(cursor)
	}
	return out, nil
}
