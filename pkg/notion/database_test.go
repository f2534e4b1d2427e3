package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient serves canned database query pages keyed by cursor.
type fakeClient struct {
	pages   map[notionapi.Cursor]*notionapi.DatabaseQueryResponse
	queries int
	created []*notionapi.PageCreateRequest
	updated map[string]*notionapi.PageUpdateRequest
}

func (f *fakeClient) QueryDatabase(_ context.Context, _ string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.queries++
	resp, ok := f.pages[req.StartCursor]
	if !ok {
		return &notionapi.DatabaseQueryResponse{}, nil
	}
	return resp, nil
}

func (f *fakeClient) CreatePage(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.created = append(f.created, req)
	return &notionapi.Page{ID: "new-page"}, nil
}

func (f *fakeClient) UpdatePage(_ context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	if f.updated == nil {
		f.updated = map[string]*notionapi.PageUpdateRequest{}
	}
	f.updated[pageID] = req
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func TestQueryAll_Paginates(t *testing.T) {
	fake := &fakeClient{pages: map[notionapi.Cursor]*notionapi.DatabaseQueryResponse{
		"": {
			Results:    []notionapi.Page{{ID: "p1"}, {ID: "p2"}},
			HasMore:    true,
			NextCursor: "cursor-2",
		},
		"cursor-2": {
			Results: []notionapi.Page{{ID: "p3"}},
		},
	}}

	pages, err := QueryAll(context.Background(), fake, "db-1", nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, notionapi.ObjectID("p3"), pages[2].ID)
}

func TestFindPageByContactID(t *testing.T) {
	fake := &fakeClient{pages: map[notionapi.Cursor]*notionapi.DatabaseQueryResponse{
		"": {Results: []notionapi.Page{{ID: "existing-page"}}},
	}}

	page, err := FindPageByContactID(context.Background(), fake, "db-1", "CNT-100001")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, notionapi.ObjectID("existing-page"), page.ID)
}

func TestFindPageByContactID_Absent(t *testing.T) {
	fake := &fakeClient{}

	page, err := FindPageByContactID(context.Background(), fake, "db-1", "CNT-999999")
	require.NoError(t, err)
	assert.Nil(t, page)
}
