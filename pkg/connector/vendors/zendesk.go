package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

type zendeskExport struct {
	Tickets     []zendeskTicket `json:"tickets"`
	AfterCursor string          `json:"after_cursor"`
	EndOfStream bool            `json:"end_of_stream"`
}

type zendeskTicket struct {
	ID          ID        `json:"id"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	RequesterID ID        `json:"requester_id"`
	AssigneeID  ID        `json:"assignee_id"`
	Tags        []string  `json:"tags"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

type zendeskComments struct {
	Comments []struct {
		ID        ID        `json:"id"`
		AuthorID  ID        `json:"author_id"`
		PlainBody string    `json:"plain_body"`
		Body      string    `json:"body"`
		Public    bool      `json:"public"`
		CreatedAt Timestamp `json:"created_at"`
	} `json:"comments"`
	NextPage string `json:"next_page"`
}

// Zendesk uses the cursor-based incremental ticket export. The export's
// after_cursor is itself the persisted checkpoint.
type Zendesk struct{}

// NewZendesk returns the Zendesk adapter
func NewZendesk() Adapter { return &Zendesk{} }

// FetchPage implements Adapter
func (a *Zendesk) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	q := url.Values{}
	switch {
	case pageToken != "":
		q.Set("cursor", pageToken)
	case !cursor.IsZero():
		q.Set("cursor", string(cursor))
	default:
		q.Set("start_time", "0")
	}

	var export zendeskExport
	if err := r.RequestInto(ctx, "/incremental/tickets/cursor.json", &client.RequestOptions{Query: q}, &export); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, t := range export.Tickets {
		id := t.ID.String()
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.Zendesk.String(),
			Subject:    t.Subject,
			Status:     t.Status,
			Priority:   t.Priority,
			Requester:  t.RequesterID.String(),
			Assignee:   t.AssigneeID.String(),
			Tags:       t.Tags,
			CreatedAt:  t.CreatedAt.Time,
			UpdatedAt:  t.UpdatedAt.Time,
			Raw:        raw(t),
		})

		path := "/tickets/" + url.PathEscape(id) + "/comments.json"
		err := followPages(source.Zendesk.String(), "comments of ticket "+id, path, func(path string) (string, error) {
			var comments zendeskComments
			if err := r.RequestInto(ctx, path, nil, &comments); err != nil {
				return "", err
			}
			for _, c := range comments.Comments {
				body := c.PlainBody
				if body == "" {
					body = c.Body
				}
				out.Messages = append(out.Messages, models.Message{
					ExternalID:       c.ID.String(),
					TicketExternalID: id,
					Source:           source.Zendesk.String(),
					Author:           c.AuthorID.String(),
					Body:             body,
					Public:           c.Public,
					CreatedAt:        c.CreatedAt.Time,
					Raw:              raw(c),
				})
			}
			return comments.NextPage, nil
		})
		if err != nil {
			return nil, err
		}
	}

	if export.AfterCursor != "" {
		out.Cursor = models.Cursor(export.AfterCursor)
	}
	if !export.EndOfStream && export.AfterCursor != "" {
		out.Next = export.AfterCursor
	}
	return out, nil
}
