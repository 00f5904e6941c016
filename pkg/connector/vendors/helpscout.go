package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

type helpScoutPerson struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
}

func (p helpScoutPerson) String() string {
	if p.Email != "" {
		return p.Email
	}
	return p.ID.String()
}

type helpScoutConversation struct {
	ID              ID              `json:"id"`
	Number          int             `json:"number"`
	Subject         string          `json:"subject"`
	Status          string          `json:"status"`
	PrimaryCustomer helpScoutPerson `json:"primaryCustomer"`
	Assignee        helpScoutPerson `json:"assignee"`
	Tags            []helpScoutTag  `json:"tags"`
	CreatedAt       Timestamp       `json:"createdAt"`
	UserUpdatedAt   Timestamp       `json:"userUpdatedAt"`
	ClosedAt        Timestamp       `json:"closedAt"`
}

type helpScoutTag struct {
	Tag string `json:"tag"`
}

type helpScoutConversations struct {
	Embedded struct {
		Conversations []helpScoutConversation `json:"conversations"`
	} `json:"_embedded"`
	Page struct {
		Number     int `json:"number"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

type helpScoutThreads struct {
	Embedded struct {
		Threads []struct {
			ID        ID              `json:"id"`
			Type      string          `json:"type"`
			Body      string          `json:"body"`
			CreatedBy helpScoutPerson `json:"createdBy"`
			CreatedAt Timestamp       `json:"createdAt"`
		} `json:"threads"`
	} `json:"_embedded"`
}

// HelpScout reads the Mailbox API v2 HAL listing sorted by modification
// time, so each page is a checkpoint.
type HelpScout struct{}

// NewHelpScout returns the Help Scout adapter
func NewHelpScout() Adapter { return &HelpScout{} }

// FetchPage implements Adapter
func (a *HelpScout) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	page := atoiDefault(pageToken, 1)
	if page == 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("status", "all")
	q.Set("sortField", "modifiedAt")
	q.Set("sortOrder", "asc")
	q.Set("page", itoa(page))
	if since, ok := cursorTime(cursor); ok {
		q.Set("modifiedSince", since.Format("2006-01-02T15:04:05Z"))
	}

	var list helpScoutConversations
	if err := r.RequestInto(ctx, "/conversations", &client.RequestOptions{Query: q}, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	var hw highWater
	for _, c := range list.Embedded.Conversations {
		id := c.ID.String()
		updated := c.UserUpdatedAt.Time
		if updated.IsZero() {
			updated = c.CreatedAt.Time
		}
		hw.observe(updated)
		var tags []string
		for _, t := range c.Tags {
			tags = append(tags, t.Tag)
		}
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.HelpScout.String(),
			Subject:    c.Subject,
			Status:     c.Status,
			Requester:  c.PrimaryCustomer.String(),
			Assignee:   c.Assignee.String(),
			Tags:       tags,
			CreatedAt:  c.CreatedAt.Time,
			UpdatedAt:  updated,
			Raw:        raw(c),
		})

		var threads helpScoutThreads
		if err := r.RequestInto(ctx, "/conversations/"+url.PathEscape(id)+"/threads", nil, &threads); err != nil {
			return nil, err
		}
		for _, t := range threads.Embedded.Threads {
			if t.Body == "" {
				continue
			}
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       t.ID.String(),
				TicketExternalID: id,
				Source:           source.HelpScout.String(),
				Author:           t.CreatedBy.String(),
				Body:             t.Body,
				Public:           t.Type != "note",
				CreatedAt:        t.CreatedAt.Time,
				Raw:              raw(t),
			})
		}
	}

	if list.Page.TotalPages > page {
		out.Next = itoa(page + 1)
	}
	out.Cursor = hw.cursor(cursor)
	return out, nil
}
