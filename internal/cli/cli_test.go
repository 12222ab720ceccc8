package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		in   string
		want command
	}{
		{"", command{}},
		{"   ", command{}},
		{"hello there", command{Kind: cmdChat, Text: "hello there"}},
		{"/chat  /not a command", command{Kind: cmdChat, Text: "/not a command"}},
		{"/share", command{Kind: cmdShare}},
		{"/unshare", command{Kind: cmdUnshare}},
		{"/who", command{Kind: cmdWho}},
		{"/leave", command{Kind: cmdLeave}},
		{"/exit", command{Kind: cmdQuit}},
		{"/lock", command{Kind: cmdHost, Action: "lock-meeting"}},
		{"/cams-off", command{Kind: cmdHost, Action: "disable-all-cameras"}},
		{"/admit 3f2a", command{Kind: cmdHost, Action: "admit-participant", Target: "3f2a"}},
		{"/nocam  ab", command{Kind: cmdHost, Action: "disable-participant-camera", Target: "ab"}},
	}
	for _, tc := range cases {
		got, err := parseLine(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseLine("/remove")
	assert.ErrorIs(t, err, errNoTarget)
	_, err = parseLine("/dance")
	assert.ErrorContains(t, err, "unknown command /dance")
}

func TestResolveTarget(t *testing.T) {
	view := client.RoomView{
		ID: "r",
		Members: []domain.Participant{
			{ID: "aaaa-1111", DisplayName: "Ada"},
			{ID: "aaab-2222", DisplayName: "Bob"},
		},
		Waiting: []domain.WaitingEntry{{ID: "cccc-3333", DisplayName: "Cy"}},
	}

	id, err := resolveTarget(view, "aaab")
	require.NoError(t, err)
	assert.Equal(t, domain.EndpointID("aaab-2222"), id)

	id, err = resolveTarget(view, "cc")
	require.NoError(t, err)
	assert.Equal(t, domain.EndpointID("cccc-3333"), id)

	_, err = resolveTarget(view, "aaa")
	assert.ErrorIs(t, err, errAmbiguous)
	_, err = resolveTarget(view, "zz")
	assert.ErrorIs(t, err, errUnknownID)
}

func TestRenderRoom(t *testing.T) {
	var buf bytes.Buffer
	renderRoom(&buf, roomDetail{
		ID:      "standup",
		Title:   "Daily",
		Locked:  true,
		Members: []domain.Participant{{ID: "h", DisplayName: "Ada", IsHost: true}, {ID: "m", DisplayName: "Bob"}},
		Waiting: []domain.WaitingEntry{{ID: "w", DisplayName: "Cy"}},
	})
	out := buf.String()
	assert.Contains(t, out, "standup (Daily) [locked]")
	assert.Regexp(t, `Ada\s+│ host`, out)
	assert.Regexp(t, `Bob\s+│ member`, out)
	assert.Regexp(t, `Cy\s+│ waiting`, out)
}

func TestRenderRoomsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderRooms(&buf, nil)
	assert.Equal(t, "No rooms\n", buf.String())
}

func TestShortList(t *testing.T) {
	got := shortList([]domain.Participant{
		{ID: "12345678-aaaa", DisplayName: "Ada"},
		{ID: "87654321-bbbb", DisplayName: "Bob"},
	})
	assert.Equal(t, "Ada (123456), Bob (876543)", got)
}

func TestRoomsCommand(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rooms":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"rooms":[{"id":"demo","title":"Demo","memberCount":2,"waiting":1,"locked":true,"createdAt":"` + created.Format(time.RFC3339) + `"}]}`))
		case "/api/rooms/gone":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"room not found"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := newRoomsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", srv.URL})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "demo")
	assert.Contains(t, out.String(), "Demo")
	assert.Regexp(t, `2\s+│\s+1\s+│ yes`, out.String())

	cmd = newRoomCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--server", srv.URL, "gone"})
	assert.ErrorContains(t, cmd.Execute(), "room not found")
}
