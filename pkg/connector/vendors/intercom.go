package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const intercomPageSize = 50

type intercomList struct {
	Conversations []intercomConversation `json:"conversations"`
	Pages         struct {
		Next *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
	} `json:"pages"`
}

type intercomAuthor struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
	Type  string `json:"type"`
}

func (a intercomAuthor) String() string {
	if a.Email != "" {
		return a.Email
	}
	return a.ID.String()
}

type intercomSource struct {
	ID      ID             `json:"id"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Author  intercomAuthor `json:"author"`
}

type intercomTags struct {
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
}

type intercomPart struct {
	ID        ID             `json:"id"`
	PartType  string         `json:"part_type"`
	Body      string         `json:"body"`
	Author    intercomAuthor `json:"author"`
	CreatedAt Timestamp      `json:"created_at"`
}

type intercomConversation struct {
	ID              ID             `json:"id"`
	Title           string         `json:"title"`
	State           string         `json:"state"`
	Priority        string         `json:"priority"`
	AdminAssigneeID ID             `json:"admin_assignee_id"`
	Source          intercomSource `json:"source"`
	Tags            intercomTags   `json:"tags"`
	CreatedAt       Timestamp      `json:"created_at"`
	UpdatedAt       Timestamp      `json:"updated_at"`
}

type intercomDetail struct {
	ConversationParts struct {
		ConversationParts []intercomPart `json:"conversation_parts"`
	} `json:"conversation_parts"`
}

// Intercom pages conversations with starting_after tokens. Conversation
// parts come from the single-conversation endpoint.
type Intercom struct {
	hw highWater
}

// NewIntercom returns an Intercom adapter for one cycle
func NewIntercom() Adapter { return &Intercom{} }

// FetchPage implements Adapter
func (a *Intercom) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("per_page", itoa(intercomPageSize))
	if pageToken != "" {
		q.Set("starting_after", pageToken)
	}

	var list intercomList
	if err := r.RequestInto(ctx, "/conversations", &client.RequestOptions{Query: q}, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, c := range list.Conversations {
		a.hw.observe(c.UpdatedAt.Time)
		if !changedSince(c.UpdatedAt.Time, cursor) {
			continue
		}
		id := c.ID.String()
		subject := c.Title
		if subject == "" {
			subject = c.Source.Subject
		}
		var tags []string
		for _, t := range c.Tags.Tags {
			tags = append(tags, t.Name)
		}
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.Intercom.String(),
			Subject:    subject,
			Status:     c.State,
			Priority:   c.Priority,
			Requester:  c.Source.Author.String(),
			Assignee:   c.AdminAssigneeID.String(),
			Tags:       tags,
			CreatedAt:  c.CreatedAt.Time,
			UpdatedAt:  c.UpdatedAt.Time,
			Raw:        raw(c),
		})
		if c.Source.ID != "" {
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       c.Source.ID.String(),
				TicketExternalID: id,
				Source:           source.Intercom.String(),
				Author:           c.Source.Author.String(),
				Body:             c.Source.Body,
				Public:           true,
				CreatedAt:        c.CreatedAt.Time,
				Raw:              raw(c.Source),
			})
		}

		var detail intercomDetail
		if err := r.RequestInto(ctx, "/conversations/"+url.PathEscape(id), nil, &detail); err != nil {
			return nil, err
		}
		for _, p := range detail.ConversationParts.ConversationParts {
			// Assignment and state changes carry no body
			if p.Body == "" {
				continue
			}
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       p.ID.String(),
				TicketExternalID: id,
				Source:           source.Intercom.String(),
				Author:           p.Author.String(),
				Body:             p.Body,
				Public:           p.PartType != "note",
				CreatedAt:        p.CreatedAt.Time,
				Raw:              raw(p),
			})
		}
	}

	if list.Pages.Next != nil && list.Pages.Next.StartingAfter != "" {
		out.Next = list.Pages.Next.StartingAfter
	} else {
		out.Cursor = a.hw.cursor(cursor)
	}
	return out, nil
}
