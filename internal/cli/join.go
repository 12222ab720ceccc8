package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/logging"
	"github.com/dkeye/Huddle/internal/media"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

var (
	errQuit      = errors.New("quit")
	errNoScreen  = errors.New("no --screen-addr configured")
	errNoTarget  = errors.New("participant id required")
	errAmbiguous = errors.New("participant id is ambiguous")
	errUnknownID = errors.New("no such participant")
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdChat
	cmdHost
	cmdShare
	cmdUnshare
	cmdWho
	cmdLeave
	cmdQuit
)

type command struct {
	Kind   commandKind
	Text   string
	Action string
	// Target is the participant id prefix as typed
	Target string
}

var hostCommands = map[string]struct {
	action   string
	targeted bool
}{
	"/lock":       {"lock-meeting", false},
	"/unlock":     {"unlock-meeting", false},
	"/end":        {"end-meeting", false},
	"/mute-all":   {"mute-all", false},
	"/unmute-all": {"unmute-all", false},
	"/cams-off":   {"disable-all-cameras", false},
	"/cams-on":    {"enable-all-cameras", false},
	"/admit":      {"admit-participant", true},
	"/reject":     {"reject-participant", true},
	"/remove":     {"remove-participant", true},
	"/mute":       {"mute-participant", true},
	"/nocam":      {"disable-participant-camera", true},
}

// parseLine turns one line of terminal input into a command. Anything not
// starting with a slash is chat.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{Kind: cmdChat, Text: line}, nil
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch word {
	case "/chat":
		if rest == "" {
			return command{}, nil
		}
		return command{Kind: cmdChat, Text: rest}, nil
	case "/share":
		return command{Kind: cmdShare}, nil
	case "/unshare":
		return command{Kind: cmdUnshare}, nil
	case "/who":
		return command{Kind: cmdWho}, nil
	case "/leave":
		return command{Kind: cmdLeave}, nil
	case "/quit", "/exit":
		return command{Kind: cmdQuit}, nil
	}
	hc, ok := hostCommands[word]
	if !ok {
		return command{}, fmt.Errorf("unknown command %s", word)
	}
	if hc.targeted && rest == "" {
		return command{}, fmt.Errorf("%s: %w", word, errNoTarget)
	}
	c := command{Kind: cmdHost, Action: hc.action}
	if hc.targeted {
		c.Target = rest
	}
	return c, nil
}

// resolveTarget matches a typed id prefix against members and waiters.
func resolveTarget(view client.RoomView, prefix string) (domain.EndpointID, error) {
	var found []domain.EndpointID
	match := func(id domain.EndpointID) {
		if strings.HasPrefix(string(id), prefix) {
			found = append(found, id)
		}
	}
	for _, p := range view.Members {
		match(p.ID)
	}
	for _, w := range view.Waiting {
		match(w.ID)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%s: %w", prefix, errUnknownID)
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%s: %w", prefix, errAmbiguous)
}

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a meeting and stay in it until /quit or Ctrl-C",
		Long: `Join a meeting as a participant.

Lines typed on stdin are chat messages. Commands:
  /share /unshare          switch the outgoing video to the screen source and back
  /who                     show the room
  /lock /unlock /end       host controls for the meeting
  /admit /reject <id>      host decides on a waiting participant
  /remove /mute /nocam <id>
  /mute-all /unmute-all /cams-off /cams-on
  /leave /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Room == "" {
				return errors.New("--room is required")
			}
			logging.Setup("debug", cfg.LogLevel)
			return runJoin(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	config.ClientFlags(cmd.Flags())
	return cmd
}

type localMedia struct {
	audio  *webrtc.TrackLocalStaticRTP
	camera *webrtc.TrackLocalStaticRTP
	screen *webrtc.TrackLocalStaticRTP
	ctl    media.Controls
}

// startMedia creates the local tracks and a pump for every configured
// source. Pumps stop with ctx.
func startMedia(ctx context.Context, p *pool.ContextPool, cfg *config.ClientConfig) (*localMedia, error) {
	streamID := "huddle-" + uuid.NewString()[:8]
	lm := &localMedia{}
	var err error
	if lm.camera, err = media.NewVideoTrack("camera", streamID); err != nil {
		return nil, err
	}
	if cfg.AudioAddr != "" {
		if lm.audio, err = media.NewAudioTrack(streamID); err != nil {
			return nil, err
		}
	}
	if cfg.ScreenAddr != "" {
		if lm.screen, err = media.NewVideoTrack("screen", streamID); err != nil {
			return nil, err
		}
	}

	start := func(name, addr string, sink media.PacketSink) (*media.Pump, error) {
		if addr == "" || sink == nil {
			return nil, nil
		}
		src, err := media.ListenUDP(addr)
		if err != nil {
			return nil, err
		}
		pump := media.NewPump(name, src, sink)
		p.Go(func(ctx context.Context) error {
			stop := context.AfterFunc(ctx, func() { _ = src.Close() })
			defer stop()
			if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "cli").Str("pump", name).Msg("media source ended")
			}
			return nil
		})
		log.Info().Str("module", "cli").Str("pump", name).Str("addr", src.Addr().String()).Msg("listening for RTP")
		return pump, nil
	}

	if lm.ctl.Audio, err = start("audio", cfg.AudioAddr, sinkOf(lm.audio)); err != nil {
		return nil, err
	}
	if lm.ctl.Camera, err = start("camera", cfg.CameraAddr, sinkOf(lm.camera)); err != nil {
		return nil, err
	}
	if _, err = start("screen", cfg.ScreenAddr, sinkOf(lm.screen)); err != nil {
		return nil, err
	}
	return lm, nil
}

// sinkOf keeps a nil track from becoming a non-nil interface.
func sinkOf(t *webrtc.TrackLocalStaticRTP) media.PacketSink {
	if t == nil {
		return nil
	}
	return t
}

func runJoin(ctx context.Context, cfg *config.ClientConfig, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineCfg := rtc.DefaultEngineConfig()
	engineCfg.STUN = cfg.STUN
	engine, err := rtc.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	workers := pool.New().WithContext(ctx)
	defer func() {
		cancel()
		_ = workers.Wait()
	}()
	lm, err := startMedia(ctx, workers, cfg)
	if err != nil {
		return err
	}

	conn, err := client.Dial(ctx, cfg.Server, cfg.Codec)
	if err != nil {
		return err
	}
	defer conn.Close()

	var audio webrtc.TrackLocal
	if lm.audio != nil {
		audio = lm.audio
	}
	sess := client.NewSession(conn, engine.Factory(audio), peer.Options{
		SignalYield:     cfg.SignalYield,
		StateRetryDelay: cfg.StateRetryDelay,
		MaxStateRetries: cfg.MaxStateRetries,
		RecoveryDelay:   cfg.RecoveryDelay,
		MaxRecoveries:   cfg.MaxRecoveries,
	}, lm.ctl)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	id, err := sess.Ready(ctx)
	if err != nil {
		return err
	}
	orch := sess.Orchestrator()
	if err := orch.ReplaceVideoTrack(ctx, lm.camera); err != nil {
		return err
	}
	events, unsubscribe := orch.Subscribe()
	defer unsubscribe()
	workers.Go(func(ctx context.Context) error {
		watchLinks(ctx, out, events)
		return nil
	})
	workers.Go(func(ctx context.Context) error {
		printUpdates(out, sess.Updates())
		return nil
	})

	roomID, err := domain.ParseRoomID(cfg.Room)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "connected as %s, joining %s\n", id.Short(), roomID)
	if err := sess.Join(roomID, cfg.Name, cfg.Title); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = sess.Leave()
			return nil
		case err := <-runErr:
			if errors.Is(err, client.ErrClosed) {
				return errors.New("relay closed the connection")
			}
			return err
		case line, ok := <-lines:
			if !ok {
				_ = sess.Leave()
				return nil
			}
			err := handleLine(ctx, sess, lm, out, line)
			if errors.Is(err, errQuit) {
				_ = sess.Leave()
				return nil
			}
			if err != nil {
				fmt.Fprintln(out, "!", err)
			}
		}
	}
}

func handleLine(ctx context.Context, sess *client.Session, lm *localMedia, out io.Writer, line string) error {
	c, err := parseLine(line)
	if err != nil {
		return err
	}
	switch c.Kind {
	case cmdChat:
		return sess.Chat(c.Text)
	case cmdShare:
		if lm.screen == nil {
			return errNoScreen
		}
		return sess.ShareVideo(ctx, lm.screen, true)
	case cmdUnshare:
		return sess.ShareVideo(ctx, lm.camera, false)
	case cmdWho:
		printRoom(out, sess.Room())
	case cmdLeave:
		return sess.Leave()
	case cmdQuit:
		return errQuit
	case cmdHost:
		var target domain.EndpointID
		if c.Target != "" {
			if target, err = resolveTarget(sess.Room(), c.Target); err != nil {
				return err
			}
		}
		return sess.HostAction(c.Action, target)
	}
	return nil
}

func printRoom(out io.Writer, v client.RoomView) {
	if v.ID == "" {
		fmt.Fprintln(out, "not in a room")
		return
	}
	renderRoom(out, roomDetail{ID: v.ID, Title: v.Title, Locked: v.Locked, Members: v.Members, Waiting: v.Waiting})
}

func printUpdates(out io.Writer, updates <-chan protocol.Message) {
	for m := range updates {
		switch m.Type {
		case protocol.TypeRoomInfo:
			role := "member"
			if m.IsHost {
				role = "host"
			}
			fmt.Fprintf(out, "* in room %s as %s\n", m.RoomID, role)
		case protocol.TypeRoster:
			if len(m.Roster) > 0 {
				fmt.Fprintf(out, "* already here: %s\n", shortList(m.Roster))
			}
		case protocol.TypeMemberJoined:
			if m.Participant == nil {
				continue
			}
			fmt.Fprintf(out, "* %s joined\n", shortList([]domain.Participant{*m.Participant}))
		case protocol.TypeMemberLeft:
			if m.Participant != nil {
				fmt.Fprintf(out, "* %s left\n", shortList([]domain.Participant{*m.Participant}))
			}
		case protocol.TypeChat:
			fmt.Fprintf(out, "<%s> %s\n", m.DisplayName, m.ChatText)
		case protocol.TypeScreenShare:
			state := "stopped"
			if m.IsSharing {
				state = "started"
			}
			fmt.Fprintf(out, "* %s %s screen sharing\n", m.From.Short(), state)
		case protocol.TypeWaiting, protocol.TypeRejected, protocol.TypeRemoved, protocol.TypeMeetingEnded:
			fmt.Fprintf(out, "* %s\n", m.Text)
		case protocol.TypeWaitingList:
			for _, w := range m.Waiting {
				fmt.Fprintf(out, "* waiting: %s (%s), /admit or /reject\n", w.DisplayName, w.ID.Short())
			}
		case protocol.TypeLockState:
			fmt.Fprintf(out, "* meeting locked: %s\n", yesNo(m.Locked))
		case protocol.TypeMediaCommand:
			fmt.Fprintf(out, "* host requested %s\n", m.Action)
		case protocol.TypeDenied:
			fmt.Fprintf(out, "! %s: %s\n", m.Code, m.Text)
		}
	}
}

func watchLinks(ctx context.Context, out io.Writer, events <-chan peer.Event) {
	for ev := range events {
		switch ev.Kind {
		case peer.LinkStateChanged:
			if ev.State == peer.Connected || ev.State == peer.Recovering {
				fmt.Fprintf(out, "* link %s %s\n", ev.Remote.Short(), ev.State)
			}
		case peer.LinkFailed:
			fmt.Fprintf(out, "! link %s gave up: %v\n", ev.Remote.Short(), ev.Err)
		case peer.LinkRemoteStream:
			if m, ok := ev.Stream.(rtc.RemoteMedia); ok {
				go drain(ctx, ev.Remote, m)
			}
		}
	}
}

// drain consumes a remote track so its buffers never fill; a terminal has
// nowhere to play it.
func drain(ctx context.Context, from domain.EndpointID, m rtc.RemoteMedia) {
	logger := log.With().Str("module", "cli").Str("remote", string(from)).Str("kind", m.Track.Kind().String()).Logger()
	var packets int
	for ctx.Err() == nil {
		if _, _, err := m.Track.ReadRTP(); err != nil {
			break
		}
		packets++
	}
	logger.Debug().Int("packets", packets).Msg("remote track ended")
}
