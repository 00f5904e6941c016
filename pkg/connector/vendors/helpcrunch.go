package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const helpCrunchPageSize = 100

type helpCrunchChats struct {
	Data []helpCrunchChat `json:"data"`
	Meta struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type helpCrunchCustomer struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
}

type helpCrunchAgent struct {
	ID ID `json:"id"`
}

type helpCrunchChat struct {
	ID              ID                 `json:"id"`
	Status          string             `json:"status"`
	Customer        helpCrunchCustomer `json:"customer"`
	Assignee        helpCrunchAgent    `json:"assignee"`
	LastMessageText string             `json:"lastMessageText"`
	CreatedAt       Timestamp          `json:"createdAt"`
	LastMessageAt   Timestamp          `json:"lastMessageAt"`
	ClosedAt        Timestamp          `json:"closedAt"`
}

type helpCrunchMessages struct {
	Data []struct {
		ID        ID        `json:"id"`
		Text      string    `json:"text"`
		From      string    `json:"from"`
		Type      string    `json:"type"`
		CreatedAt Timestamp `json:"createdAt"`
	} `json:"data"`
}

// HelpCrunch pages chats by offset and reports timestamps as unix seconds.
// The listing is unordered, so the checkpoint is only emitted at the end.
type HelpCrunch struct {
	hw highWater
}

// NewHelpCrunch returns a HelpCrunch adapter for one cycle
func NewHelpCrunch() Adapter { return &HelpCrunch{} }

// FetchPage implements Adapter
func (a *HelpCrunch) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	offset := atoiDefault(pageToken, 0)
	q := url.Values{}
	q.Set("offset", itoa(offset))
	q.Set("limit", itoa(helpCrunchPageSize))

	var list helpCrunchChats
	if err := r.RequestInto(ctx, "/chats", &client.RequestOptions{Query: q}, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, c := range list.Data {
		updated := c.LastMessageAt.Time
		if updated.IsZero() {
			updated = c.CreatedAt.Time
		}
		if c.ClosedAt.After(updated) {
			updated = c.ClosedAt.Time
		}
		a.hw.observe(updated)
		if !changedSince(updated, cursor) {
			continue
		}
		id := c.ID.String()
		requester := c.Customer.Email
		if requester == "" {
			requester = c.Customer.ID.String()
		}
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.HelpCrunch.String(),
			Subject:    c.LastMessageText,
			Status:     c.Status,
			Requester:  requester,
			Assignee:   c.Assignee.ID.String(),
			CreatedAt:  c.CreatedAt.Time,
			UpdatedAt:  updated,
			Raw:        raw(c),
		})

		var msgs helpCrunchMessages
		if err := r.RequestInto(ctx, "/chats/"+url.PathEscape(id)+"/messages", nil, &msgs); err != nil {
			return nil, err
		}
		for _, m := range msgs.Data {
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       m.ID.String(),
				TicketExternalID: id,
				Source:           source.HelpCrunch.String(),
				Author:           m.From,
				Body:             m.Text,
				Public:           m.Type != "private",
				CreatedAt:        m.CreatedAt.Time,
				Raw:              raw(m),
			})
		}
	}

	next := offset + len(list.Data)
	if len(list.Data) == helpCrunchPageSize && (list.Meta.Total == 0 || next < list.Meta.Total) {
		out.Next = itoa(next)
	} else {
		out.Cursor = a.hw.cursor(cursor)
	}
	return out, nil
}
