package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const groovePageSize = 50

type grooveTickets struct {
	Tickets []grooveTicket `json:"tickets"`
	Meta    struct {
		Pagination struct {
			CurrentPage int     `json:"current_page"`
			TotalPages  int     `json:"total_pages"`
			NextPage    *string `json:"next_page"`
		} `json:"pagination"`
	} `json:"meta"`
}

type grooveTicket struct {
	Number    ID        `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Priority  string    `json:"priority"`
	Tags      []string  `json:"tags"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
	Links     struct {
		Customer struct {
			Href string `json:"href"`
		} `json:"customer"`
		Assignee struct {
			Href string `json:"href"`
		} `json:"assignee"`
	} `json:"links"`
}

type grooveMessages struct {
	Messages []struct {
		ID        ID        `json:"id"`
		PlainText string    `json:"plain_text_body"`
		Body      string    `json:"body"`
		Note      bool      `json:"note"`
		CreatedAt Timestamp `json:"created_at"`
		Links     struct {
			Author struct {
				Href string `json:"href"`
			} `json:"author"`
		} `json:"links"`
	} `json:"messages"`
}

// Groove lists tickets newest-first with no server-side change filter, so
// changes are filtered locally and the checkpoint is only emitted once the
// listing is exhausted.
type Groove struct {
	hw highWater
}

// NewGroove returns a Groove adapter for one cycle
func NewGroove() Adapter { return &Groove{} }

// FetchPage implements Adapter
func (a *Groove) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	page := atoiDefault(pageToken, 1)
	if page == 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", itoa(page))
	q.Set("per_page", itoa(groovePageSize))

	var list grooveTickets
	if err := r.RequestInto(ctx, "/tickets", &client.RequestOptions{Query: q}, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, t := range list.Tickets {
		a.hw.observe(t.UpdatedAt.Time)
		if !changedSince(t.UpdatedAt.Time, cursor) {
			continue
		}
		number := t.Number.String()
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: number,
			Source:     source.Groove.String(),
			Subject:    t.Title,
			Status:     t.State,
			Priority:   t.Priority,
			Requester:  t.Links.Customer.Href,
			Assignee:   t.Links.Assignee.Href,
			Tags:       t.Tags,
			CreatedAt:  t.CreatedAt.Time,
			UpdatedAt:  t.UpdatedAt.Time,
			Raw:        raw(t),
		})

		var msgs grooveMessages
		if err := r.RequestInto(ctx, "/tickets/"+url.PathEscape(number)+"/messages", nil, &msgs); err != nil {
			return nil, err
		}
		for _, m := range msgs.Messages {
			body := m.PlainText
			if body == "" {
				body = m.Body
			}
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       m.ID.String(),
				TicketExternalID: number,
				Source:           source.Groove.String(),
				Author:           m.Links.Author.Href,
				Body:             body,
				Public:           !m.Note,
				CreatedAt:        m.CreatedAt.Time,
				Raw:              raw(m),
			})
		}
	}

	p := list.Meta.Pagination
	if p.NextPage != nil && *p.NextPage != "" && len(list.Tickets) > 0 {
		out.Next = itoa(page + 1)
	}
	if out.Next == "" {
		out.Cursor = a.hw.cursor(cursor)
	}
	return out, nil
}
