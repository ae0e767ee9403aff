package command

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/collection"
	"github.com/ferrowell/parley/internal/simsdk"
	"github.com/ferrowell/parley/labels"
	"github.com/ferrowell/parley/mention"
	"github.com/ferrowell/parley/pubsub"
)

// NewChatCmd creates the chat command: an interactive line loop over a
// synchronizer bound to a simulated server.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against the simulated server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadForCommand(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			srv := simsdk.NewServer(log)
			srv.CreateChannelAt(cfg.ChannelURL, cfg.ChannelName, chatsdk.ChannelKindGroup)
			if err := seedHistory(srv, cfg); err != nil {
				return err
			}

			cachePath, err := resolveCachePath(cfg)
			if err != nil {
				return err
			}
			cache, err := simsdk.OpenCache(cachePath, log)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer func() { _ = cache.Close() }()

			ch, err := srv.Join(cfg.ChannelURL, cfg.ViewerID)
			if err != nil {
				return err
			}
			sync, err := collection.New(collection.Options{
				Channel: ch,
				Factory: srv.Collections(cache, log),
				Params:  chatsdk.CollectionParams{Limit: cfg.PageSize},
				Logger:  log,
			})
			if err != nil {
				return err
			}
			defer sync.Dispose()

			session := &chatSession{
				cfg:     cfg,
				log:     log,
				srv:     srv,
				sync:    sync,
				src:     newCatalog().Pick(cfg.Locale),
				tracker: mention.NewTracker(""),
				roster:  defaultRoster,
			}
			return session.run(cmd)
		},
	}
	addChatFlags(cmd)
	return cmd
}

// chatSession is one interactive run: the loops that print and simulate,
// plus the stdin dispatcher.
type chatSession struct {
	cfg     Config
	log     *zap.Logger
	srv     *simsdk.Server
	sync    *collection.Synchronizer
	src     labels.Source
	tracker *mention.Tracker
	roster  map[string]string
	failing bool
}

func (s *chatSession) run(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	stop := make(chan struct{})
	defer close(stop)

	events, cancel := s.sync.Events().Subscribe(8)
	defer cancel()
	go s.watchEvents(cmd, events, stop)
	go s.renderLoop(cmd, stop)
	if s.cfg.PeerSeconds > 0 {
		go s.peerLoop(stop)
	}

	s.sync.Start(s.cfg.ViewerID)
	fmt.Fprintf(out, "chatting as %s in %s; /help lists commands\n", s.cfg.ViewerID, s.cfg.ChannelName)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if !s.dispatch(cmd, strings.TrimSpace(scanner.Text())) {
			return nil
		}
	}
	return scanner.Err()
}

// dispatch handles one input line; false means quit.
func (s *chatSession) dispatch(cmd *cobra.Command, line string) bool {
	out := cmd.OutOrStdout()
	word, rest := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		word, rest = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch word {
	case "":
	case "/quit", "/q":
		return false
	case "/prev":
		s.sync.LoadPrevious()
	case "/next":
		s.sync.LoadNext()
	case "/refresh":
		s.sync.Refresh(s.cfg.ViewerID)
	case "/gap":
		s.simulateGap(out)
	case "/fail":
		s.toggleFailures(out)
	case "/retry":
		s.retryFailed(out)
	case "/rename":
		if rest == "" {
			fmt.Fprintln(out, "usage: /rename <name>")
			break
		}
		if err := s.srv.RenameChannel(s.cfg.ChannelURL, rest); err != nil {
			fmt.Fprintf(out, "rename: %v\n", err)
		}
	case "/delete":
		if err := s.srv.DeleteChannel(s.cfg.ChannelURL); err != nil {
			fmt.Fprintf(out, "delete: %v\n", err)
		}
	case "/who":
		s.printMatches(out, rest)
	case "/help":
		s.printHelp(out)
	default:
		if strings.HasPrefix(word, "/") {
			fmt.Fprintf(out, "unknown command %s; /help lists commands\n", word)
			break
		}
		s.sync.SendUserMessage(composeUserMessage(line, s.tracker, s.roster))
	}
	return true
}

// simulateGap drops the event transport, posts while it is down, and brings
// it back, which forces the synchronizer through gap recovery.
func (s *chatSession) simulateGap(out io.Writer) {
	s.srv.Disconnect()
	sender := s.roster[peerNames[0]]
	if _, err := s.srv.Post(s.cfg.ChannelURL, sender, "posted during the outage", 0); err != nil {
		fmt.Fprintf(out, "gap: %v\n", err)
		s.srv.Reconnect()
		return
	}
	s.srv.Reconnect()
	fmt.Fprintln(out, "simulated an outage; the missed message arrives with the reloaded window")
}

func (s *chatSession) toggleFailures(out io.Writer) {
	s.failing = !s.failing
	var inject error
	verdict := "sends succeed again"
	if s.failing {
		inject = errors.New("injected send failure")
		verdict = "sends will fail; /retry after /fail"
	}
	if err := s.srv.FailSends(s.cfg.ChannelURL, inject); err != nil {
		fmt.Fprintf(out, "fail toggle: %v\n", err)
		return
	}
	fmt.Fprintln(out, verdict)
}

func (s *chatSession) retryFailed(out io.Writer) {
	retried := 0
	for _, m := range s.sync.Snapshot().Messages {
		if m.Status == chatsdk.SendStatusFailed {
			s.sync.ResendMessage(m)
			retried++
		}
	}
	if retried == 0 {
		fmt.Fprintln(out, "nothing to retry")
		return
	}
	fmt.Fprintf(out, "%s: %d\n", s.src.Get(labels.KeyMessageRetry), retried)
}

// printMatches previews mention completion for a query prefix.
func (s *chatSession) printMatches(out io.Writer, prefix string) {
	matches := rosterMatches(s.roster, prefix)
	if len(matches) == 0 {
		fmt.Fprintln(out, s.src.Get(labels.KeyMentionNobody))
		return
	}
	for _, name := range matches {
		fmt.Fprintf(out, "%s%s -> %s\n", s.tracker.Trigger(), name, s.roster[name])
	}
}

func (s *chatSession) printHelp(out io.Writer) {
	fmt.Fprint(out, `anything not starting with / is sent as a message; @ada mentions a peer
  /prev        load the page before the window
  /next        fold new arrivals (and any later page) into the window
  /refresh     reload the session keeping the window on screen
  /gap         simulate an event-transport outage and recovery
  /fail        toggle injected send failures
  /retry       resend every failed message
  /rename <n>  rename the channel
  /delete      delete the channel on the server
  /who [q]     list mentionable peers matching q
  /quit        exit
`)
}

// watchEvents prints channel lifecycle broadcasts and swallowed errors.
func (s *chatSession) watchEvents(cmd *cobra.Command, events <-chan pubsub.Event, stop <-chan struct{}) {
	out := cmd.OutOrStdout()
	for {
		select {
		case <-stop:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch ev := e.(type) {
			case pubsub.ChannelUpdated:
				fmt.Fprintf(out, "* channel is now %q\n", ev.Channel.Name())
			case pubsub.ChannelDeleted:
				fmt.Fprintf(out, "* %s\n", s.src.Get(labels.KeyChannelGone))
			}
		case err := <-s.sync.Err():
			fmt.Fprintf(out, "* background failure: %v\n", err)
		}
	}
}

// renderLoop reprints the window whenever the snapshot changes.
func (s *chatSession) renderLoop(cmd *cobra.Command, stop <-chan struct{}) {
	out := cmd.OutOrStdout()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	last := ""
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		view := renderSnapshot(s.sync.Snapshot(), s.src, 8)
		if view == last {
			continue
		}
		last = view
		fmt.Fprint(out, "\n"+view)
	}
}

// peerLoop posts simulated peer chatter so the tray has something to show.
func (s *chatSession) peerLoop(stop <-chan struct{}) {
	tick := time.NewTicker(time.Duration(s.cfg.PeerSeconds) * time.Second)
	defer tick.Stop()

	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		sender := peerNames[i%len(peerNames)]
		body := peerLines[i%len(peerLines)]
		if _, err := s.srv.Post(s.cfg.ChannelURL, s.roster[sender], body, 0); err != nil {
			s.log.Warn("peer post failed", zap.Error(err))
			return
		}
	}
}

var (
	peerNames = []string{"ada", "lin", "sam"}
	peerLines = []string{
		"anyone looked at the window folding yet?",
		"pagination feels right now",
		"pushing a fix for the tray counter",
		"lunch?",
	}
)

// seedHistory posts the simulated channel's backlog, one message a minute
// ending two minutes ago.
func seedHistory(srv *simsdk.Server, cfg Config) error {
	base := time.Now().Add(-time.Duration(cfg.HistorySeed+1) * time.Minute)
	for i := 0; i < cfg.HistorySeed; i++ {
		sender := cfg.ViewerID
		if i%4 != 0 {
			sender = defaultRoster[peerNames[i%len(peerNames)]]
		}
		at := base.Add(time.Duration(i) * time.Minute).UnixMilli()
		body := fmt.Sprintf("backlog %d", i+1)
		if _, err := srv.Post(cfg.ChannelURL, sender, body, at); err != nil {
			return fmt.Errorf("seed history: %w", err)
		}
	}
	return nil
}
