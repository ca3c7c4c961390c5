package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/core/presence"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/ui"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Show who is in the room without joining",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(cmd.Flags())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		participants, err := fetchRoster(ctx, http.DefaultClient, cfg.Server)
		if err != nil {
			return err
		}
		rows := make([]ui.PeerRow, 0, len(participants))
		for _, p := range participants {
			rows = append(rows, ui.PeerRow{
				Name: p.Name,
				State: presence.State{
					Mic:     p.Mute.Microphone,
					Speaker: p.Mute.Speaker,
					Sharing: p.Sharing,
					Voice:   p.Voice,
				},
				Detail: p.JoinedAt.Local().Format(time.TimeOnly),
			})
		}
		fmt.Println(ui.RosterView(rows))
		return nil
	},
}

// rosterURL maps the signaling URL onto the relay's roster endpoint.
func rosterURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("bad server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("bad server url scheme %q", u.Scheme)
	}
	u.Path = "/api/roster"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchRoster(ctx context.Context, client *http.Client, server string) ([]domain.Participant, error) {
	endpoint, err := rosterURL(server)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch roster: %s", resp.Status)
	}

	var body struct {
		Participants []domain.Participant `json:"participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return body.Participants, nil
}
