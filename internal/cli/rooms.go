package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type roomDetail struct {
	ID        domain.RoomID         `json:"id"`
	Title     string                `json:"title"`
	CreatedAt time.Time             `json:"createdAt"`
	HostID    domain.EndpointID     `json:"hostId"`
	Locked    bool                  `json:"locked"`
	Members   []domain.Participant  `json:"members"`
	Waiting   []domain.WaitingEntry `json:"waiting"`
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(ctx context.Context, server, path string, out any) error {
	u, err := url.JoinPath(server, path)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s: %s", path, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newRoomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms live on the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(cmd.Flags())
			if err != nil {
				return err
			}
			var list struct {
				Rooms []domain.RoomInfo `json:"rooms"`
			}
			if err := getJSON(cmd.Context(), cfg.Server, "/api/rooms", &list); err != nil {
				return err
			}
			renderRooms(cmd.OutOrStdout(), list.Rooms)
			return nil
		},
	}
	config.ClientFlags(cmd.Flags())
	return cmd
}

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room <id>",
		Short: "Show the members and waiting list of one room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(cmd.Flags())
			if err != nil {
				return err
			}
			id, err := domain.ParseRoomID(args[0])
			if err != nil {
				return err
			}
			var room roomDetail
			if err := getJSON(cmd.Context(), cfg.Server, "/api/rooms/"+url.PathEscape(string(id)), &room); err != nil {
				return err
			}
			renderRoom(cmd.OutOrStdout(), room)
			return nil
		},
	}
	config.ClientFlags(cmd.Flags())
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderRooms(w io.Writer, rooms []domain.RoomInfo) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Room", "Title", "Members", "Waiting", "Locked", "Created"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.Title, r.MemberCount, r.Waiting, yesNo(r.Locked), r.CreatedAt.Local().Format(time.DateTime)})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func renderRoom(w io.Writer, r roomDetail) {
	title := string(r.ID)
	if r.Title != "" {
		title += " (" + r.Title + ")"
	}
	if r.Locked {
		title += " [locked]"
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Participant", "Name", "Role"})
	for _, p := range r.Members {
		role := "member"
		if p.IsHost {
			role = "host"
		}
		t.AppendRow(table.Row{p.ID, p.DisplayName, role})
	}
	for _, e := range r.Waiting {
		t.AppendRow(table.Row{e.ID, e.DisplayName, "waiting"})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// shortList renders ids as "name (id)" for one-line summaries.
func shortList(ps []domain.Participant) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.DisplayName, p.ID.Short()))
	}
	return strings.Join(parts, ", ")
}
