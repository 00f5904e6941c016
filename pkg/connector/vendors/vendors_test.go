package vendors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
	"github.com/discordwell/cliaas/pkg/models"
)

type call struct {
	Path  string
	Query url.Values
	Opts  *client.RequestOptions
}

// fakeRequester answers requests from a path-keyed table of JSON bodies
type fakeRequester struct {
	mu     sync.Mutex
	routes map[string]string
	calls  []call
}

func newFake(routes map[string]string) *fakeRequester {
	return &fakeRequester{routes: routes}
}

func (f *fakeRequester) RequestInto(_ context.Context, path string, opts *client.RequestOptions, out interface{}) error {
	f.mu.Lock()
	c := call{Path: path, Opts: opts}
	if opts != nil {
		c.Query = opts.Query
	}
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	body, ok := f.routes[path]
	if !ok {
		return fmt.Errorf("unexpected request %s", path)
	}
	if body == "" {
		return nil
	}
	return json.Unmarshal([]byte(body), out)
}

func (f *fakeRequester) first(path string) call {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Path == path {
			return c
		}
	}
	return call{}
}

func fetchAll(t *testing.T, a Adapter, r Requester, cursor models.Cursor) ([]*Page, int, int) {
	t.Helper()
	var pages []*Page
	tickets, messages := 0, 0
	token := ""
	for i := 0; i < 10; i++ {
		p, err := a.FetchPage(context.Background(), r, cursor, token)
		require.NoError(t, err)
		pages = append(pages, p)
		tickets += len(p.Tickets)
		messages += len(p.Messages)
		if p.Next == "" {
			return pages, tickets, messages
		}
		token = p.Next
	}
	t.Fatal("pagination did not terminate")
	return nil, 0, 0
}

func TestFreshdeskTwoTicketsFiveMessages(t *testing.T) {
	r := newFake(map[string]string{
		"/tickets": `[
			{"id": 11, "subject": "Printer on fire", "status": 2, "priority": 4, "requester_id": 7, "tags": ["hw"],
			 "created_at": "2026-03-01T10:00:00Z", "updated_at": "2026-03-01T11:00:00Z"},
			{"id": 12, "subject": "Refund", "status": 5, "priority": 1, "requester_id": 8,
			 "created_at": "2026-03-01T10:30:00Z", "updated_at": "2026-03-02T09:00:00Z"}
		]`,
		"/tickets/11/conversations": `[
			{"id": 101, "body_text": "it burns", "user_id": 7, "private": false, "created_at": "2026-03-01T10:01:00Z"},
			{"id": 102, "body_text": "on our way", "user_id": 1, "private": true, "created_at": "2026-03-01T10:05:00Z"}
		]`,
		"/tickets/12/conversations": `[
			{"id": 201, "body_text": "money back", "user_id": 8, "created_at": "2026-03-01T10:31:00Z"},
			{"id": 202, "body": "<p>approved</p>", "user_id": 1, "created_at": "2026-03-01T12:00:00Z"},
			{"id": 203, "body_text": "thanks", "user_id": 8, "created_at": "2026-03-02T09:00:00Z"}
		]`,
	})

	pages, tickets, messages := fetchAll(t, NewFreshdesk(), r, "")
	require.Len(t, pages, 1)
	assert.Equal(t, 2, tickets)
	assert.Equal(t, 5, messages)

	p := pages[0]
	assert.Equal(t, "freshdesk", p.Tickets[0].Source)
	assert.Equal(t, "open", p.Tickets[0].Status)
	assert.Equal(t, "urgent", p.Tickets[0].Priority)
	assert.Equal(t, "closed", p.Tickets[1].Status)
	assert.False(t, p.Messages[1].Public)
	assert.Equal(t, "<p>approved</p>", p.Messages[3].Body)
	assert.Equal(t, "12", p.Messages[4].TicketExternalID)
	assert.Equal(t, models.Cursor("2026-03-02T09:00:00Z"), p.Cursor)

	q := r.first("/tickets").Query
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "asc", q.Get("order_type"))
	assert.Empty(t, q.Get("updated_since"))
}

func TestFreshdeskUsesCursorAndPages(t *testing.T) {
	var tickets []map[string]interface{}
	for i := 0; i < freshdeskPageSize; i++ {
		tickets = append(tickets, map[string]interface{}{"id": i + 1, "updated_at": "2026-03-05T00:00:00Z"})
	}
	body, err := json.Marshal(tickets)
	require.NoError(t, err)

	routes := map[string]string{"/tickets": string(body)}
	for i := 0; i < freshdeskPageSize; i++ {
		routes[fmt.Sprintf("/tickets/%d/conversations", i+1)] = `[]`
	}
	r := newFake(routes)

	p, err := NewFreshdesk().FetchPage(context.Background(), r, "2026-03-04T00:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, "2", p.Next)
	assert.Equal(t, "2026-03-04T00:00:00Z", r.first("/tickets").Query.Get("updated_since"))
}

func TestZendeskCursorExport(t *testing.T) {
	r := newFake(map[string]string{
		"/incremental/tickets/cursor.json": `{
			"tickets": [{"id": 5, "subject": "Hi", "status": "open", "requester_id": 9, "updated_at": "2026-03-01T00:00:00Z"}],
			"after_cursor": "MTU3NjYxMzUzOS4wfHw0NTF8",
			"end_of_stream": false
		}`,
		"/tickets/5/comments.json": `{
			"comments": [{"id": 50, "author_id": 9, "plain_body": "hello", "public": true}],
			"next_page": "https://acme.zendesk.com/api/v2/tickets/5/comments.json?page=2"
		}`,
		"https://acme.zendesk.com/api/v2/tickets/5/comments.json?page=2": `{
			"comments": [{"id": 51, "author_id": 1, "body": "hi back", "public": false}],
			"next_page": null
		}`,
	})

	p, err := NewZendesk().FetchPage(context.Background(), r, "", "")
	require.NoError(t, err)
	require.Len(t, p.Tickets, 1)
	require.Len(t, p.Messages, 2)
	assert.Equal(t, "hi back", p.Messages[1].Body)
	assert.Equal(t, "MTU3NjYxMzUzOS4wfHw0NTF8", p.Next)
	assert.Equal(t, models.Cursor("MTU3NjYxMzUzOS4wfHw0NTF8"), p.Cursor)
	assert.Equal(t, "0", r.first("/incremental/tickets/cursor.json").Query.Get("start_time"))
}

func TestZendeskResumesFromCursor(t *testing.T) {
	r := newFake(map[string]string{
		"/incremental/tickets/cursor.json": `{"tickets": [], "after_cursor": "next", "end_of_stream": true}`,
	})
	p, err := NewZendesk().FetchPage(context.Background(), r, "saved", "")
	require.NoError(t, err)
	assert.Empty(t, p.Next)
	assert.Equal(t, models.Cursor("next"), p.Cursor)
	assert.Equal(t, "saved", r.first("/incremental/tickets/cursor.json").Query.Get("cursor"))
}

func TestGrooveFiltersAndCheckpointsAtEnd(t *testing.T) {
	r := newFake(map[string]string{
		"/tickets": `{
			"tickets": [
				{"number": 3, "title": "new", "state": "opened", "updated_at": "2026-03-03T00:00:00Z"},
				{"number": 2, "title": "old", "state": "closed", "updated_at": "2026-02-01T00:00:00Z"}
			],
			"meta": {"pagination": {"current_page": 1, "total_pages": 1, "next_page": null}}
		}`,
		"/tickets/3/messages": `{"messages": [{"id": "m1", "plain_text_body": "hey", "note": true}]}`,
	})

	pages, tickets, messages := fetchAll(t, NewGroove(), r, "2026-02-15T00:00:00Z")
	assert.Equal(t, 1, tickets)
	assert.Equal(t, 1, messages)
	assert.False(t, pages[0].Messages[0].Public)
	assert.Equal(t, models.Cursor("2026-03-03T00:00:00Z"), pages[0].Cursor)
}

func TestGrooveWithholdsCursorUntilLastPage(t *testing.T) {
	r := newFake(map[string]string{
		"/tickets": `{
			"tickets": [{"number": 9, "updated_at": "2026-03-03T00:00:00Z"}],
			"meta": {"pagination": {"current_page": 1, "total_pages": 2, "next_page": "https://api.groovehq.com/v1/tickets?page=2"}}
		}`,
		"/tickets/9/messages": `{"messages": []}`,
	})
	p, err := NewGroove().FetchPage(context.Background(), r, "", "")
	require.NoError(t, err)
	assert.Equal(t, "2", p.Next)
	assert.Empty(t, p.Cursor)
}

func TestHelpCrunchUnixTimestamps(t *testing.T) {
	r := newFake(map[string]string{
		"/chats": `{
			"data": [{"id": 77, "status": "opened", "customer": {"id": 4, "email": "a@b.c"},
			          "lastMessageText": "help", "createdAt": 1772366400, "lastMessageAt": 1772370000}],
			"meta": {"total": 1}
		}`,
		"/chats/77/messages": `{"data": [{"id": 1, "text": "help", "from": "customer", "createdAt": 1772366400.5}]}`,
	})

	pages, tickets, messages := fetchAll(t, NewHelpCrunch(), r, "")
	assert.Equal(t, 1, tickets)
	assert.Equal(t, 1, messages)
	tk := pages[0].Tickets[0]
	assert.Equal(t, "a@b.c", tk.Requester)
	assert.Equal(t, time.Unix(1772370000, 0).UTC(), tk.UpdatedAt)
	assert.Equal(t, time.Unix(1772366400, int64(500*time.Millisecond)).UTC(), pages[0].Messages[0].CreatedAt)
	assert.Equal(t, timeCursor(time.Unix(1772370000, 0)), pages[0].Cursor)
}

func TestIntercomConversationParts(t *testing.T) {
	r := newFake(map[string]string{
		"/conversations": `{
			"conversations": [{"id": "c1", "state": "open", "updated_at": 1772370000, "created_at": 1772366400,
				"source": {"id": "s1", "subject": "Login", "body": "cannot log in", "author": {"email": "u@x.io"}},
				"tags": {"tags": [{"name": "auth"}]}}],
			"pages": {"next": null}
		}`,
		"/conversations/c1": `{"conversation_parts": {"conversation_parts": [
			{"id": "p1", "part_type": "comment", "body": "try again", "author": {"id": "42"}},
			{"id": "p2", "part_type": "assignment", "body": ""},
			{"id": "p3", "part_type": "note", "body": "internal"}
		]}}`,
	})

	pages, tickets, messages := fetchAll(t, NewIntercom(), r, "")
	assert.Equal(t, 1, tickets)
	assert.Equal(t, 3, messages)
	p := pages[0]
	assert.Equal(t, "Login", p.Tickets[0].Subject)
	assert.Equal(t, []string{"auth"}, p.Tickets[0].Tags)
	assert.Equal(t, "u@x.io", p.Messages[0].Author)
	assert.False(t, p.Messages[2].Public)
	assert.Equal(t, "50", r.first("/conversations").Query.Get("per_page"))
}

func TestHelpScoutHALPages(t *testing.T) {
	r := newFake(map[string]string{
		"/conversations": `{
			"_embedded": {"conversations": [{"id": 300, "subject": "Order", "status": "active",
				"primaryCustomer": {"id": 1, "email": "c@d.e"}, "tags": [{"tag": "vip"}],
				"createdAt": "2026-03-01T00:00:00Z", "userUpdatedAt": "2026-03-02T00:00:00Z"}]},
			"page": {"number": 1, "totalPages": 3}
		}`,
		"/conversations/300/threads": `{"_embedded": {"threads": [
			{"id": 1, "type": "customer", "body": "where is it"},
			{"id": 2, "type": "lineitem"},
			{"id": 3, "type": "note", "body": "check warehouse"}
		]}}`,
	})

	p, err := NewHelpScout().FetchPage(context.Background(), r, "", "")
	require.NoError(t, err)
	assert.Equal(t, "2", p.Next)
	assert.Len(t, p.Messages, 2)
	assert.False(t, p.Messages[1].Public)
	assert.Equal(t, []string{"vip"}, p.Tickets[0].Tags)
	assert.Equal(t, models.Cursor("2026-03-02T00:00:00Z"), p.Cursor)
}

func TestZohoDeskEmptyCollection(t *testing.T) {
	r := newFake(map[string]string{"/tickets": ""})
	pages, tickets, _ := fetchAll(t, NewZohoDesk(), r, "2026-01-01T00:00:00Z")
	assert.Equal(t, 0, tickets)
	assert.Equal(t, models.Cursor("2026-01-01T00:00:00Z"), pages[0].Cursor)
}

func TestZohoDeskThreads(t *testing.T) {
	r := newFake(map[string]string{
		"/tickets": `{"data": [{"id": "900", "subject": "VPN", "status": "Open",
			"createdTime": "2026-03-01T08:00:00.000Z", "modifiedTime": "2026-03-01T09:00:00.000Z"}]}`,
		"/tickets/900/threads": `{"data": [{"id": "t1", "summary": "vpn down", "visibility": "public", "fromEmailAddress": "x@y.z"}]}`,
	})
	p, err := NewZohoDesk().FetchPage(context.Background(), r, "", "")
	require.NoError(t, err)
	require.Len(t, p.Messages, 1)
	assert.Equal(t, "vpn down", p.Messages[0].Body)
	assert.Equal(t, "modifiedTime", r.first("/tickets").Query.Get("sortBy"))
}

func TestHubSpotSearch(t *testing.T) {
	r := newFake(map[string]string{
		"/crm/v3/objects/tickets/search": `{
			"results": [{"id": "4001", "properties": {"subject": "Billing", "content": "charged twice",
				"hs_ticket_priority": "HIGH", "hs_pipeline_stage": "1",
				"createdate": "2026-03-01T00:00:00Z", "hs_lastmodifieddate": "2026-03-03T00:00:00Z"}}],
			"paging": {"next": {"after": "1"}}
		}`,
	})

	p, err := NewHubSpot().FetchPage(context.Background(), r, "2026-03-02T00:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, "1", p.Next)
	assert.Equal(t, "high", p.Tickets[0].Priority)
	require.Len(t, p.Messages, 1)
	assert.Equal(t, "4001-content", p.Messages[0].ExternalID)

	opts := r.first("/crm/v3/objects/tickets/search").Opts
	require.NotNil(t, opts)
	assert.Equal(t, http.MethodPost, opts.Method)
	req, ok := opts.Body.(hubSpotSearch)
	require.True(t, ok)
	require.Len(t, req.FilterGroups, 1)
	assert.Equal(t, "GT", req.FilterGroups[0].Filters[0].Operator)
	assert.Equal(t, "1772409600000", req.FilterGroups[0].Filters[0].Value)
}

func TestKayakoFollowsNextURL(t *testing.T) {
	next := "https://acme.kayako.com/api/v1/cases?offset=100&limit=100"
	r := newFake(map[string]string{
		"/cases": `{"data": [{"id": 1, "subject": "A", "status": {"label": "Open"},
			"priority": {"label": "High"}, "tags": [{"name": "x"}], "updated_at": "2026-03-01T00:00:00Z"}],
			"next_url": "` + next + `"}`,
		next:             `{"data": [{"id": 2, "subject": "B", "status": {"label": "Closed"}, "updated_at": "2026-03-04T00:00:00Z"}]}`,
		"/cases/1/posts": `{"data": [{"id": 10, "contents": "first"}]}`,
		"/cases/2/posts": `{"data": [{"id": 20, "contents": "second", "is_private": true}]}`,
	})

	pages, tickets, messages := fetchAll(t, NewKayako(), r, "")
	require.Len(t, pages, 2)
	assert.Equal(t, 2, tickets)
	assert.Equal(t, 2, messages)
	assert.Empty(t, pages[0].Cursor)
	assert.Equal(t, "High", pages[0].Tickets[0].Priority)
	assert.Equal(t, models.Cursor("2026-03-04T00:00:00Z"), pages[1].Cursor)
}

func TestFrontPagination(t *testing.T) {
	r := newFake(map[string]string{
		"/conversations": `{"_results": [{"id": "cnv_1", "subject": "Hi", "status": "assigned",
			"assignee": {"email": "agent@co"}, "recipient": {"handle": "cust@co"},
			"created_at": 1772366400.25, "last_message": {"created_at": 1772370000}}],
			"_pagination": {"next": null}}`,
		"/conversations/cnv_1/messages": `{"_results": [{"id": "msg_1", "text": "hello", "author": {"email": "agent@co"}}],
			"_pagination": {"next": null}}`,
	})

	pages, tickets, messages := fetchAll(t, NewFront(), r, "")
	assert.Equal(t, 1, tickets)
	assert.Equal(t, 1, messages)
	tk := pages[0].Tickets[0]
	assert.Equal(t, "cust@co", tk.Requester)
	assert.Equal(t, "agent@co", tk.Assignee)
	assert.Equal(t, time.Unix(1772370000, 0).UTC(), tk.UpdatedAt)
	assert.Equal(t, timeCursor(time.Unix(1772370000, 0)), pages[0].Cursor)
}

func TestNestedPaginationStopsOnRepeatedLink(t *testing.T) {
	zendeskSelf := "https://acme.zendesk.com/api/v2/tickets/5/comments.json?page=2"
	kayakoSelf := "https://acme.kayako.com/api/v1/cases/1/posts?offset=10"
	frontSelf := "https://api2.frontapp.com/conversations/cnv_1/messages?page_token=x"

	tests := []struct {
		name    string
		adapter Adapter
		routes  map[string]string
		loop    string
	}{
		{
			name:    "zendesk",
			adapter: NewZendesk(),
			routes: map[string]string{
				"/incremental/tickets/cursor.json": `{"tickets": [{"id": 5}], "after_cursor": "c", "end_of_stream": true}`,
				"/tickets/5/comments.json":         `{"comments": [{"id": 50}], "next_page": "` + zendeskSelf + `"}`,
				zendeskSelf:                        `{"comments": [{"id": 51}], "next_page": "` + zendeskSelf + `"}`,
			},
			loop: zendeskSelf,
		},
		{
			name:    "kayako",
			adapter: NewKayako(),
			routes: map[string]string{
				"/cases":         `{"data": [{"id": 1, "status": {"label": "Open"}}]}`,
				"/cases/1/posts": `{"data": [{"id": 10}], "next_url": "` + kayakoSelf + `"}`,
				kayakoSelf:       `{"data": [{"id": 11}], "next_url": "` + kayakoSelf + `"}`,
			},
			loop: kayakoSelf,
		},
		{
			name:    "front",
			adapter: NewFront(),
			routes: map[string]string{
				"/conversations":                `{"_results": [{"id": "cnv_1"}], "_pagination": {"next": null}}`,
				"/conversations/cnv_1/messages": `{"_results": [{"id": "msg_1"}], "_pagination": {"next": "` + frontSelf + `"}}`,
				frontSelf:                       `{"_results": [{"id": "msg_2"}], "_pagination": {"next": "` + frontSelf + `"}}`,
			},
			loop: frontSelf,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFake(tt.routes)
			_, err := tt.adapter.FetchPage(context.Background(), r, "", "")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData))
			assert.Contains(t, err.Error(), tt.loop)

			r.mu.Lock()
			defer r.mu.Unlock()
			assert.Len(t, r.calls, 3)
		})
	}
}

func TestFollowPagesBound(t *testing.T) {
	fetched := 0
	err := followPages("testdesk", "messages of ticket 1", "/m?page=0", func(string) (string, error) {
		fetched++
		return fmt.Sprintf("/m?page=%d", fetched), nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Equal(t, maxNestedPages, fetched)

	fetched = 0
	err = followPages("testdesk", "messages of ticket 1", "/m", func(string) (string, error) {
		fetched++
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fetched)

	err = followPages("testdesk", "messages of ticket 1", "", func(string) (string, error) {
		t.Fatal("empty start link must not be fetched")
		return "", nil
	})
	require.NoError(t, err)
}

func TestIDAndTimestampDecoding(t *testing.T) {
	var v struct {
		A ID        `json:"a"`
		B ID        `json:"b"`
		C ID        `json:"c"`
		T Timestamp `json:"t"`
		U Timestamp `json:"u"`
		M Timestamp `json:"m"`
		N Timestamp `json:"n"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 123, "b": "abc", "c": null,
		"t": "2026-03-01T12:00:00+01:00", "u": 1772366400, "m": 1772366400000, "n": null}`), &v))

	assert.Equal(t, ID("123"), v.A)
	assert.Equal(t, ID("abc"), v.B)
	assert.Equal(t, ID(""), v.C)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), v.T.Time)
	assert.Equal(t, time.Unix(1772366400, 0).UTC(), v.U.Time)
	assert.Equal(t, time.Unix(1772366400, 0).UTC(), v.M.Time)
	assert.True(t, v.N.IsZero())
}

func TestHighWater(t *testing.T) {
	var hw highWater
	assert.Equal(t, models.Cursor("prev"), hw.cursor("prev"))

	hw.observe(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, models.Cursor("2026-02-01T00:00:00Z"), hw.cursor("2026-02-01T00:00:00Z"))
	assert.Equal(t, models.Cursor("2026-01-01T00:00:00Z"), hw.cursor(""))

	assert.True(t, changedSince(time.Now(), ""))
	assert.False(t, changedSince(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01-01T00:00:00Z"))
}
