package vendors

import (
	"context"
	"net/url"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const kayakoPageSize = 100

type kayakoRef struct {
	ID    ID     `json:"id"`
	Label string `json:"label"`
}

type kayakoCase struct {
	ID            ID         `json:"id"`
	Subject       string     `json:"subject"`
	Status        kayakoRef  `json:"status"`
	Priority      *kayakoRef `json:"priority"`
	Requester     kayakoRef  `json:"requester"`
	AssignedAgent *kayakoRef `json:"assigned_agent"`
	Tags          []namedTag `json:"tags"`
	CreatedAt     Timestamp  `json:"created_at"`
	UpdatedAt     Timestamp  `json:"updated_at"`
}

type kayakoPost struct {
	ID        ID        `json:"id"`
	Contents  string    `json:"contents"`
	Creator   kayakoRef `json:"creator"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt Timestamp `json:"created_at"`
}

type kayakoList[T any] struct {
	Data    []T    `json:"data"`
	NextURL string `json:"next_url"`
}

// Kayako pages cases with offset/limit and hands out absolute next_url
// links, which are used verbatim as page tokens.
type Kayako struct {
	hw highWater
}

// NewKayako returns a Kayako adapter for one cycle
func NewKayako() Adapter { return &Kayako{} }

// FetchPage implements Adapter
func (a *Kayako) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	path := pageToken
	var opts *client.RequestOptions
	if path == "" {
		path = "/cases"
		q := url.Values{}
		q.Set("offset", "0")
		q.Set("limit", itoa(kayakoPageSize))
		opts = &client.RequestOptions{Query: q}
	}

	var list kayakoList[kayakoCase]
	if err := r.RequestInto(ctx, path, opts, &list); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, c := range list.Data {
		a.hw.observe(c.UpdatedAt.Time)
		if !changedSince(c.UpdatedAt.Time, cursor) {
			continue
		}
		id := c.ID.String()
		t := models.Ticket{
			ExternalID: id,
			Source:     source.Kayako.String(),
			Subject:    c.Subject,
			Status:     c.Status.Label,
			Requester:  c.Requester.ID.String(),
			CreatedAt:  c.CreatedAt.Time,
			UpdatedAt:  c.UpdatedAt.Time,
			Raw:        raw(c),
		}
		if c.Priority != nil {
			t.Priority = c.Priority.Label
		}
		if c.AssignedAgent != nil {
			t.Assignee = c.AssignedAgent.ID.String()
		}
		for _, tag := range c.Tags {
			t.Tags = append(t.Tags, tag.Name)
		}
		out.Tickets = append(out.Tickets, t)

		postsPath := "/cases/" + url.PathEscape(id) + "/posts"
		err := followPages(source.Kayako.String(), "posts of case "+id, postsPath, func(path string) (string, error) {
			var posts kayakoList[kayakoPost]
			if err := r.RequestInto(ctx, path, nil, &posts); err != nil {
				return "", err
			}
			for _, p := range posts.Data {
				out.Messages = append(out.Messages, models.Message{
					ExternalID:       p.ID.String(),
					TicketExternalID: id,
					Source:           source.Kayako.String(),
					Author:           p.Creator.ID.String(),
					Body:             p.Contents,
					Public:           !p.IsPrivate,
					CreatedAt:        p.CreatedAt.Time,
					Raw:              raw(p),
				})
			}
			return posts.NextURL, nil
		})
		if err != nil {
			return nil, err
		}
	}

	if list.NextURL != "" && len(list.Data) > 0 {
		out.Next = list.NextURL
	} else {
		out.Cursor = a.hw.cursor(cursor)
	}
	return out, nil
}
