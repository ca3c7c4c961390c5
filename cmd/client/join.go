package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceMesh/internal/adapters/capture"
	"github.com/dkeye/VoiceMesh/internal/adapters/rtc"
	"github.com/dkeye/VoiceMesh/internal/adapters/wsclient"
	"github.com/dkeye/VoiceMesh/internal/app/mesh"
	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/logging"
	"github.com/dkeye/VoiceMesh/internal/ui"
)

var flagVoice bool

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the room and open an interactive prompt",
	Long: `Join the room under --name and read commands from stdin.

Examples:
  voicemesh join -n alice
  voicemesh join -n bob --voice --screen_file demo.ivf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.Name == "" {
			return errors.New("--name is required")
		}
		level := logging.SetLevel(cfg.LogLevel)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runJoin(ctx, cfg, level)
	},
}

func init() {
	joinCmd.Flags().BoolVar(&flagVoice, "voice", false, "start voice right after joining")
}

func runJoin(ctx context.Context, cfg *config.ClientConfig, level zerolog.Level) error {
	speaker := capture.NewSpeaker()
	factory, err := rtc.NewFactory(rtc.Options{
		ICEServers: cfg.ICEServers,
		LogLevel:   level,
		Sink:       speaker,
	})
	if err != nil {
		return err
	}
	devices := &capture.Devices{ToneHz: cfg.ToneHz, ScreenFile: cfg.ScreenFile}

	client := wsclient.New(wsclient.Options{
		URL:        cfg.Server,
		Attempts:   cfg.ReconnectAttempts,
		Base:       cfg.ReconnectBase,
		PingPeriod: cfg.PingPeriod,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	orch := mesh.New(client, factory, devices)
	go client.Run(ctx, orch)
	go orch.Run(ctx, client.Incoming())

	lost := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-orch.Notices():
				fmt.Println(ui.NoticeView(n))
				if n.Kind == mesh.NoticeError && errors.Is(n.Err, core.ErrTransportLoss) {
					close(lost)
					return
				}
			}
		}
	}()

	if err := orch.Join(cfg.Name); err != nil {
		return err
	}
	fmt.Println(ui.TitleStyle.Render("Joined as "+cfg.Name) + ui.MutedStyle.Render("  /help for commands"))

	if flagVoice {
		if err := orch.StartVoice(ctx); err != nil {
			ui.PrintError(err.Error())
		}
	}

	p := &prompt{
		room: orch,
		out:  os.Stdout,
		peers: func() []ui.PeerRow {
			return peerRows(orch, speaker)
		},
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	defer func() {
		if orch.VoiceActive() {
			_ = orch.StopVoice()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return core.ErrTransportLoss
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := p.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				log.Debug().Err(err).Str("module", "cmd.client").Msg("command failed")
				ui.PrintError(err.Error())
			}
		}
	}
}

// peerRows joins the presence cache with the session table, the local
// playback levels and any per-peer volume.
func peerRows(orch *mesh.Orchestrator, speaker *capture.Speaker) []ui.PeerRow {
	names := orch.Presence.Names()
	rows := make([]ui.PeerRow, 0, len(names))
	for _, name := range names {
		st, _ := orch.Presence.Get(name)
		row := ui.PeerRow{Name: name, State: st}
		if name == orch.Name() {
			row.Detail = "you"
		} else if s, ok := orch.Sessions.Get(name); ok {
			row.Detail = fmt.Sprintf("%s level %.2f", s.State(), speaker.Level(name))
			if v, ok := orch.PeerVolume(name); ok {
				row.Detail += fmt.Sprintf(" vol %.2f", v)
			}
		}
		rows = append(rows, row)
	}
	return rows
}
