package vendors

import (
	"context"
	"fmt"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const freshdeskPageSize = 100

type freshdeskTicket struct {
	ID          ID        `json:"id"`
	Subject     string    `json:"subject"`
	Status      int       `json:"status"`
	Priority    int       `json:"priority"`
	RequesterID ID        `json:"requester_id"`
	ResponderID ID        `json:"responder_id"`
	Tags        []string  `json:"tags"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

type freshdeskConversation struct {
	ID        ID        `json:"id"`
	BodyText  string    `json:"body_text"`
	Body      string    `json:"body"`
	UserID    ID        `json:"user_id"`
	Private   bool      `json:"private"`
	CreatedAt Timestamp `json:"created_at"`
}

var freshdeskStatuses = map[int]string{2: "open", 3: "pending", 4: "resolved", 5: "closed"}
var freshdeskPriorities = map[int]string{1: "low", 2: "medium", 3: "high", 4: "urgent"}

// Freshdesk pages /tickets by page number ordered by updated_at ascending,
// so every page is a safe checkpoint.
type Freshdesk struct{}

// NewFreshdesk returns the Freshdesk adapter
func NewFreshdesk() Adapter { return &Freshdesk{} }

// FetchPage implements Adapter
func (a *Freshdesk) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	page := atoiDefault(pageToken, 1)
	if page == 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", itoa(page))
	q.Set("per_page", itoa(freshdeskPageSize))
	q.Set("order_by", "updated_at")
	q.Set("order_type", "asc")
	if since, ok := cursorTime(cursor); ok {
		q.Set("updated_since", since.Format("2006-01-02T15:04:05Z"))
	}

	var tickets []freshdeskTicket
	if err := r.RequestInto(ctx, "/tickets", &client.RequestOptions{Query: q}, &tickets); err != nil {
		return nil, err
	}

	out := &Page{}
	var hw highWater
	for _, t := range tickets {
		id := t.ID.String()
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.Freshdesk.String(),
			Subject:    t.Subject,
			Status:     lookup(freshdeskStatuses, t.Status),
			Priority:   lookup(freshdeskPriorities, t.Priority),
			Requester:  t.RequesterID.String(),
			Assignee:   t.ResponderID.String(),
			Tags:       t.Tags,
			CreatedAt:  t.CreatedAt.Time,
			UpdatedAt:  t.UpdatedAt.Time,
			Raw:        raw(t),
		})
		hw.observe(t.UpdatedAt.Time)

		var convs []freshdeskConversation
		if err := r.RequestInto(ctx, "/tickets/"+url.PathEscape(id)+"/conversations", nil, &convs); err != nil {
			return nil, err
		}
		for _, c := range convs {
			body := c.BodyText
			if body == "" {
				body = c.Body
			}
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       c.ID.String(),
				TicketExternalID: id,
				Source:           source.Freshdesk.String(),
				Author:           c.UserID.String(),
				Body:             body,
				Public:           !c.Private,
				CreatedAt:        c.CreatedAt.Time,
				Raw:              raw(c),
			})
		}
	}

	if len(tickets) == freshdeskPageSize {
		out.Next = itoa(page + 1)
	}
	out.Cursor = hw.cursor(cursor)
	return out, nil
}

func lookup(m map[int]string, k int) string {
	if v, ok := m[k]; ok {
		return v
	}
	if k == 0 {
		return ""
	}
	return fmt.Sprintf("%d", k)
}
