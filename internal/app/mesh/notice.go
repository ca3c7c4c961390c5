package mesh

import "github.com/rs/zerolog/log"

type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeWarn
	NoticeError
	NoticeChat
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeWarn:
		return "warn"
	case NoticeError:
		return "error"
	case NoticeChat:
		return "chat"
	}
	return "unknown"
}

// Notice is an advisory event for the user. None of them stop the session
// except a NoticeError carrying a transport loss.
type Notice struct {
	Kind NoticeKind
	From string
	Text string
	Err  error
}

func (o *Orchestrator) Notices() <-chan Notice {
	return o.notices
}

func (o *Orchestrator) notify(n Notice) {
	select {
	case o.notices <- n:
	default:
		log.Warn().Str("module", "app.mesh").Str("text", n.Text).Msg("notice dropped")
	}
}
