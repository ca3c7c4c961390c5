package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dkeye/VoiceMesh/internal/core/media"
	"github.com/dkeye/VoiceMesh/internal/ui"
)

// room is the part of the orchestrator the prompt drives.
type room interface {
	Say(text string) error
	RequestList() error
	StartVoice(ctx context.Context) error
	StopVoice() error
	ToggleMicrophone() (bool, error)
	ToggleSpeaker() (bool, error)
	SetMicVolume(v float64) float64
	SetIncomingVolume(v float64) float64
	SetPeerVolume(name string, v float64) float64
	StartScreenShare(ctx context.Context) error
	StopScreenShare()
	VisibilityLost()
}

var errQuit = errors.New("quit")

const helpText = `/voice             join voice
/stop              leave voice
/mute              toggle microphone
/deafen            toggle speaker
/share             share the screen file
/unshare           stop sharing
/hide              act as if the window was hidden
/mic <0-2>         microphone volume
/vol <0-2>         incoming volume
/vol <name> <0-2>  volume of one participant
/list              refresh the roster from the relay
/peers             show the room
/quit              leave
anything else is sent as chat`

type prompt struct {
	room  room
	out   io.Writer
	peers func() []ui.PeerRow
}

// exec runs one line typed by the user. It returns errQuit on /quit.
func (p *prompt) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return p.room.Say(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(p.out, helpText)
	case "/voice":
		return p.room.StartVoice(ctx)
	case "/stop":
		return p.room.StopVoice()
	case "/mute":
		muted, err := p.room.ToggleMicrophone()
		if err != nil {
			return err
		}
		p.status("microphone", muted)
	case "/deafen":
		muted, err := p.room.ToggleSpeaker()
		if err != nil {
			return err
		}
		p.status("speaker", muted)
	case "/share":
		return p.room.StartScreenShare(ctx)
	case "/unshare":
		p.room.StopScreenShare()
	case "/hide":
		p.room.VisibilityLost()
	case "/mic", "/vol":
		fields := strings.Fields(arg)
		if len(fields) == 0 || len(fields) > 2 || (cmd == "/mic" && len(fields) == 2) {
			return fmt.Errorf("usage: %s", volumeUsage(cmd))
		}
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return fmt.Errorf("%s wants a number between 0 and %g", cmd, media.MaxVolume)
		}
		label := strings.TrimPrefix(cmd, "/")
		switch {
		case cmd == "/mic":
			v = p.room.SetMicVolume(v)
		case len(fields) == 2:
			label = fields[0]
			v = p.room.SetPeerVolume(fields[0], v)
		default:
			v = p.room.SetIncomingVolume(v)
		}
		fmt.Fprintln(p.out, ui.MutedStyle.Render(fmt.Sprintf("%s volume %.2f", label, v)))
	case "/list":
		return p.room.RequestList()
	case "/peers":
		fmt.Fprintln(p.out, ui.RosterView(p.peers()))
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func volumeUsage(cmd string) string {
	if cmd == "/mic" {
		return "/mic <0-2>"
	}
	return "/vol [name] <0-2>"
}

func (p *prompt) status(device string, muted bool) {
	state := "on"
	if muted {
		state = "muted"
	}
	fmt.Fprintln(p.out, ui.MutedStyle.Render(device+" "+state))
}
