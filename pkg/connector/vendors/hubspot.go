package vendors

import (
	"context"
	"net/http"
	"strings"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/models"
)

const hubSpotPageSize = 100

var hubSpotProperties = []string{
	"subject", "content", "hs_pipeline_stage", "hs_ticket_priority",
	"hubspot_owner_id", "createdate", "hs_lastmodifieddate",
}

type hubSpotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubSpotFilterGroup struct {
	Filters []hubSpotFilter `json:"filters"`
}

type hubSpotSort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type hubSpotSearch struct {
	FilterGroups []hubSpotFilterGroup `json:"filterGroups,omitempty"`
	Sorts        []hubSpotSort        `json:"sorts"`
	Properties   []string             `json:"properties"`
	Limit        int                  `json:"limit"`
	After        string               `json:"after,omitempty"`
}

type hubSpotTicket struct {
	ID         ID                `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  Timestamp         `json:"createdAt"`
	UpdatedAt  Timestamp         `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

type hubSpotResults struct {
	Results []hubSpotTicket `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// HubSpot searches CRM ticket objects ordered by hs_lastmodifieddate. The
// ticket content property is the only conversation text, so each ticket
// yields at most one message.
type HubSpot struct{}

// NewHubSpot returns the HubSpot adapter
func NewHubSpot() Adapter { return &HubSpot{} }

// FetchPage implements Adapter
func (a *HubSpot) FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error) {
	req := hubSpotSearch{
		Sorts:      []hubSpotSort{{PropertyName: "hs_lastmodifieddate", Direction: "ASCENDING"}},
		Properties: hubSpotProperties,
		Limit:      hubSpotPageSize,
		After:      pageToken,
	}
	if since, ok := cursorTime(cursor); ok {
		req.FilterGroups = []hubSpotFilterGroup{{Filters: []hubSpotFilter{{
			PropertyName: "hs_lastmodifieddate",
			Operator:     "GT",
			Value:        itoa64(since.UnixMilli()),
		}}}}
	}

	var res hubSpotResults
	opts := &client.RequestOptions{Method: http.MethodPost, Body: req}
	if err := r.RequestInto(ctx, "/crm/v3/objects/tickets/search", opts, &res); err != nil {
		return nil, err
	}

	out := &Page{}
	var hw highWater
	for _, t := range res.Results {
		id := t.ID.String()
		p := t.Properties
		updated := parseTimeString(p["hs_lastmodifieddate"])
		if updated.IsZero() {
			updated = t.UpdatedAt.Time
		}
		created := parseTimeString(p["createdate"])
		if created.IsZero() {
			created = t.CreatedAt.Time
		}
		hw.observe(updated)
		out.Tickets = append(out.Tickets, models.Ticket{
			ExternalID: id,
			Source:     source.HubSpot.String(),
			Subject:    p["subject"],
			Status:     p["hs_pipeline_stage"],
			Priority:   strings.ToLower(p["hs_ticket_priority"]),
			Assignee:   p["hubspot_owner_id"],
			CreatedAt:  created,
			UpdatedAt:  updated,
			Raw:        raw(t),
		})
		if content := p["content"]; content != "" {
			out.Messages = append(out.Messages, models.Message{
				ExternalID:       id + "-content",
				TicketExternalID: id,
				Source:           source.HubSpot.String(),
				Body:             content,
				Public:           true,
				CreatedAt:        created,
			})
		}
	}

	if res.Paging != nil && res.Paging.Next != nil {
		out.Next = res.Paging.Next.After
	}
	out.Cursor = hw.cursor(cursor)
	return out, nil
}
