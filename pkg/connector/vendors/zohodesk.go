package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const zohoPageSize = 100

type zohoTicket struct {
	ID           ID        `json:"id"`
	TicketNumber string    `json:"ticketNumber"`
	Subject      string    `json:"subject"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	ContactID    ID        `json:"contactId"`
	AssigneeID   ID        `json:"assigneeId"`
	CreatedTime  Timestamp `json:"createdTime"`
	ModifiedTime Timestamp `json:"modifiedTime"`
}

type zohoThread struct {
	ID          ID        `json:"id"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Visibility  string    `json:"visibility"`
	Direction   string    `json:"direction"`
	FromEmail   string    `json:"fromEmailAddress"`
	CreatedTime Timestamp `json:"createdTime"`
}

// Zoho Desk pages /tickets with a 1-based from index sorted by
// modifiedTime. Empty collections come back as 204 with no body.
type ZohoDesk struct{}

// NewZohoDesk returns the Zoho Desk adapter
func NewZohoDesk() Adapter { return &ZohoDesk{} }

// FetchPage implements Adapter
func (a *ZohoDesk) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	from := atoiDefault(pageToken, 1)
	if from == 0 {
		from = 1
	}
	q := url.Values{}
	q.Set("from", itoa(from))
	q.Set("limit", itoa(zohoPageSize))
	q.Set("sortBy", "modifiedTime")

	var list struct {
		Data []zohoTicket `json:"data"`
	}
	if err := r.RequestInto(ctx, "/tickets", &client.RequestOptions{Query: q}, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	var hw highWater
	for _, t := range list.Data {
		hw.observe(t.ModifiedTime.Time)
		if !changedSince(t.ModifiedTime.Time, cursor) {
			continue
		}
		id := t.ID.String()
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.ZohoDesk.String(),
			Subject:    t.Subject,
			Status:     t.Status,
			Priority:   t.Priority,
			Requester:  t.ContactID.String(),
			Assignee:   t.AssigneeID.String(),
			CreatedAt:  t.CreatedTime.Time,
			UpdatedAt:  t.ModifiedTime.Time,
			Raw:        raw(t),
		})

		var threads struct {
			Data []zohoThread `json:"data"`
		}
		if err := r.RequestInto(ctx, "/tickets/"+url.PathEscape(id)+"/threads", nil, &threads); err != nil {
			return nil, err
		}
		for _, th := range threads.Data {
			body := th.Content
			if body == "" {
				body = th.Summary
			}
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       th.ID.String(),
				TicketExternalID: id,
				Source:           source.ZohoDesk.String(),
				Author:           th.FromEmail,
				Body:             body,
				Public:           th.Visibility != "private",
				CreatedAt:        th.CreatedTime.Time,
				Raw:              raw(th),
			})
		}
	}

	if len(list.Data) == zohoPageSize {
		out.Next = itoa(from + zohoPageSize)
	}
	out.Cursor = hw.cursor(cursor)
	return out, nil
}
