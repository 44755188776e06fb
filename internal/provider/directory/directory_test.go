package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/pkg/rapidapi"
)

type fakeClient struct {
	mu    sync.Mutex
	pages map[int][]rapidapi.Professional
	errs  map[int]error
	calls []int
}

func (f *fakeClient) SearchAgents(_ context.Context, req rapidapi.SearchRequest) (*rapidapi.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Page)
	if err := f.errs[req.Page]; err != nil {
		return nil, err
	}
	return &rapidapi.SearchResponse{Professionals: f.pages[req.Page]}, nil
}

type countingQuota struct {
	mu    sync.Mutex
	max   int
	count int
}

func (q *countingQuota) Reserve(_ context.Context, provider string, _ int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && q.count >= q.max {
		return q.count, &quota.ExceededError{Provider: provider, Max: q.max}
	}
	q.count++
	return q.count, nil
}

func agents(page, n int) []rapidapi.Professional {
	out := make([]rapidapi.Professional, n)
	for i := range out {
		out[i] = rapidapi.Professional{
			EncodedZUID: fmt.Sprintf("z%d-%d", page, i),
			FullName:    fmt.Sprintf("Agent %d %d", page, i),
		}
	}
	return out
}

func TestSearch_NormalizesProfessional(t *testing.T) {
	client := &fakeClient{pages: map[int][]rapidapi.Professional{
		1: {{
			EncodedZUID:  "X1",
			FullName:     "Ana Maria Lopez",
			BusinessName: "Sunrise Realty",
			PhoneNumber:  "(305) 555-0100",
			Location:     "Miami, FL",
			ProfileLink:  "https://www.zillow.com/profile/ana",
			ProfilePhoto: "https://photos.example/ana.jpg",
		}},
	}}
	a := New(client, &countingQuota{}, Config{PageSize: 10})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	require.NoError(t, err)
	require.Len(t, leads, 1)

	got := leads[0]
	assert.Equal(t, "agent", got.PersonType)
	assert.Equal(t, "Sunrise Realty", got.Business)
	assert.Equal(t, "https://www.zillow.com/profile/ana", got.Website)
	assert.Equal(t, "Ana", got.Contact.FirstName)
	assert.Equal(t, "Maria Lopez", got.Contact.LastName)
	assert.Equal(t, "(305) 555-0100", got.Contact.Phone)
	assert.Empty(t, got.Contact.Email)
	require.NotNil(t, got.Address)
	assert.Equal(t, "Miami, FL", got.Address.Text)
	assert.Equal(t, model.SourceRapidAPI, got.Source)

	// A short first page ends paging.
	assert.Equal(t, []int{1}, client.calls)
}

func TestSearch_PagesInOrderAndStopsOnEmpty(t *testing.T) {
	client := &fakeClient{pages: map[int][]rapidapi.Professional{
		1: agents(1, 2),
		2: agents(2, 2),
		3: agents(3, 2),
		4: agents(4, 2),
		5: nil,
		6: agents(6, 2),
	}}
	q := &countingQuota{}
	a := New(client, q, Config{PageSize: 2, MaxPages: 10, Concurrency: 3})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	require.NoError(t, err)
	require.Len(t, leads, 8)
	assert.Equal(t, "Agent", leads[0].Contact.FirstName)
	assert.Equal(t, "1 0", leads[0].Contact.LastName)
	assert.Equal(t, "4 1", leads[7].Contact.LastName)

	// Page 1, wave 2..4, wave 5..7. Page 6 is fetched but not merged.
	assert.Len(t, client.calls, 7)
	assert.Equal(t, 7, q.count)
}

func TestSearch_StopsWhenPageAddsNothing(t *testing.T) {
	client := &fakeClient{pages: map[int][]rapidapi.Professional{
		1: agents(1, 2),
		2: agents(1, 2),
		3: agents(3, 2),
	}}
	a := New(client, &countingQuota{}, Config{PageSize: 2, MaxPages: 3, Concurrency: 3})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}

func TestSearch_DedupsAcrossPages(t *testing.T) {
	p2 := append(agents(2, 1), agents(1, 1)...)
	client := &fakeClient{pages: map[int][]rapidapi.Professional{
		1: agents(1, 2),
		2: p2,
	}}
	a := New(client, &countingQuota{}, Config{PageSize: 2, MaxPages: 2})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	require.NoError(t, err)
	assert.Len(t, leads, 3)
}

func TestSearch_FirstPageFailureIsTotal(t *testing.T) {
	client := &fakeClient{errs: map[int]error{1: errors.New("rapidapi: status 500")}}
	a := New(client, &countingQuota{}, Config{})

	_, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	var epe *provider.ExternalProviderError
	require.ErrorAs(t, err, &epe)
	assert.Equal(t, model.SourceRapidAPI, epe.Source)
}

func TestSearch_EmptyFirstPage(t *testing.T) {
	a := New(&fakeClient{}, &countingQuota{}, Config{})

	_, err := a.Search(context.Background(), provider.Query{Location: "Nowhere"})
	require.Error(t, err)
	assert.Equal(t, "RapidAPI response did not include any professionals.", err.Error())
}

func TestSearch_LaterPageFailureKeepsEarlier(t *testing.T) {
	client := &fakeClient{
		pages: map[int][]rapidapi.Professional{1: agents(1, 2), 3: agents(3, 2)},
		errs:  map[int]error{2: errors.New("timeout")},
	}
	a := New(client, &countingQuota{}, Config{PageSize: 2, MaxPages: 3})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}

func TestSearch_QuotaExceeded(t *testing.T) {
	a := New(&fakeClient{}, &countingQuota{max: 1, count: 1}, Config{MonthlyLimit: 1})

	_, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, "rapidapi monthly quota exceeded (1 calls).", err.Error())
}

func TestSearch_QuotaRunsOutMidway(t *testing.T) {
	client := &fakeClient{pages: map[int][]rapidapi.Professional{
		1: agents(1, 2), 2: agents(2, 2), 3: agents(3, 2),
	}}
	a := New(client, &countingQuota{max: 2}, Config{PageSize: 2, MaxPages: 3, Concurrency: 1})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX"})
	require.NoError(t, err)
	assert.Len(t, leads, 4)
}

func TestSearch_RespectsMaxResults(t *testing.T) {
	client := &fakeClient{pages: map[int][]rapidapi.Professional{
		1: agents(1, 2), 2: agents(2, 2), 3: agents(3, 2),
	}}
	a := New(client, &countingQuota{}, Config{PageSize: 2, MaxPages: 3, Concurrency: 1})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Austin, TX", MaxResults: 3})
	require.NoError(t, err)
	assert.Len(t, leads, 3)
	assert.Equal(t, []int{1, 2}, client.calls)
}

func TestSearch_RequiresLocation(t *testing.T) {
	a := New(&fakeClient{}, &countingQuota{}, Config{})
	_, err := a.Search(context.Background(), provider.Query{Location: "  "})
	require.Error(t, err)
}
