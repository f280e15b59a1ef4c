package leaderboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountsAccumulateWithoutEndpoint(t *testing.T) {
	s := NewSheet("")
	assert.False(t, s.Enabled())

	s.RecordRequest("Some Song", "Some Artist", "viewer_one")
	s.RecordRequest("Other Song", "Other Artist", "viewer_one")
	s.RecordPlay("Some Song", "Some Artist", "viewer_one")
	s.RecordRequest("Some Song", "Some Artist", "viewer_two")

	assert.Equal(t, 2, s.RequestCount("viewer_one"))
	assert.Equal(t, 1, s.RequestCount("viewer_two"))
	assert.Equal(t, 0, s.RequestCount("nobody"))
	assert.Equal(t, 1, s.PlayCount("Some Song", "Some Artist"))
	assert.Equal(t, 0, s.PlayCount("Other Song", "Other Artist"))
}

func TestPlayCountsKeyedByTrackNotRequester(t *testing.T) {
	s := NewSheet("")

	// One requester getting two different tracks played counts once per
	// track, not twice against the requester.
	s.RecordPlay("Some Song", "Some Artist", "viewer_one")
	s.RecordPlay("Other Song", "Other Artist", "viewer_one")
	assert.Equal(t, 1, s.PlayCount("Some Song", "Some Artist"))
	assert.Equal(t, 1, s.PlayCount("Other Song", "Other Artist"))

	// The same track played again, for a different requester, accumulates
	// on the track.
	s.RecordPlay("Some Song", "Some Artist", "viewer_two")
	assert.Equal(t, 2, s.PlayCount("Some Song", "Some Artist"))

	// Same title by a different artist is a different track.
	s.RecordPlay("Some Song", "A Cover Band", "viewer_one")
	assert.Equal(t, 2, s.PlayCount("Some Song", "Some Artist"))
	assert.Equal(t, 1, s.PlayCount("Some Song", "A Cover Band"))
}

func TestRowsPushedToEndpoint(t *testing.T) {
	var rows []Row
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var row Row
		require.NoError(t, json.Unmarshal(body, &row))
		rows = append(rows, row)
	}))
	defer srv.Close()

	s := NewSheet(srv.URL)
	require.True(t, s.Enabled())

	s.RecordRequest("Some Song", "Some Artist", "viewer_one")
	s.RecordPlay("Some Song", "Some Artist", "viewer_one")
	s.RecordRequest("Other Song", "Other Artist", "viewer_one")

	require.Len(t, rows, 3)
	assert.Equal(t, KindRequest, rows[0].Kind)
	assert.Equal(t, 1, rows[0].Count)
	assert.Equal(t, KindPlay, rows[1].Kind)
	assert.Equal(t, 1, rows[1].Count)
	assert.Equal(t, KindRequest, rows[2].Kind)
	assert.Equal(t, 2, rows[2].Count)
	assert.Equal(t, "viewer_one", rows[0].RequestedBy)
	assert.False(t, rows[0].UpdatedAt.IsZero())
}

func TestEndpointFailureDoesNotDisturbCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSheet(srv.URL)
	s.RecordRequest("Some Song", "Some Artist", "viewer_one")
	assert.Equal(t, 1, s.RequestCount("viewer_one"))
}

func TestRowValidation(t *testing.T) {
	valid := Row{Kind: KindRequest, RequestedBy: "viewer", Count: 1}
	assert.NoError(t, valid.validate())

	assert.Error(t, Row{Kind: "bogus", RequestedBy: "viewer", Count: 1}.validate())
	assert.Error(t, Row{Kind: KindPlay, Count: 1}.validate())
	assert.Error(t, Row{Kind: KindPlay, RequestedBy: "viewer"}.validate())
}
