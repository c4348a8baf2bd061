package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"sozuri-connect/internal/bridge"
	"sozuri-connect/internal/chat"
	"sozuri-connect/internal/chatapi"
	"sozuri-connect/internal/metrics"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
)

const typingSweepInterval = time.Second

type watchOptions struct {
	conversationID string
	redisURL       string
	metricsAddr    string
}

func newWatchCmd(app *App) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live events and chat from the terminal",
		Long: `Connects to the live socket and prints every event as it arrives.

With --conversation, the conversation's history is loaded and each line typed
on stdin is sent as a message. Lines starting with a slash are commands:
  /typing on|off   tell the customer whether you are typing
  /read <id>       acknowledge a message
  /quit            leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.redisURL == "" {
				opts.redisURL = app.cfg.RedisURL
			}
			if opts.metricsAddr == "" {
				opts.metricsAddr = app.cfg.MetricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.watch(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "conversation to open and chat in")
	cmd.Flags().StringVar(&opts.redisURL, "redis", "", "mirror events to this Redis URL")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// watchSession is one live connection plus the state built on it.
type watchSession struct {
	app     *App
	out     *lockedWriter
	manager *realtime.Manager
	events  *realtime.Dispatcher
	store   *chat.Store
}

func (a *App) watch(ctx context.Context, opts watchOptions) error {
	_, token, err := a.client()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, a)
		defer srv.Close()
	}

	api, err := a.newClient(chatapi.StaticToken(token), m)
	if err != nil {
		return err
	}

	s := &watchSession{app: a, out: &lockedWriter{w: a.Out}}
	s.manager = realtime.NewManager(realtime.Options{
		URL:          a.cfg.WebSocketURL,
		PingInterval: a.cfg.PingInterval,
		Backoff: realtime.Backoff{
			Base:        a.cfg.ReconnectBaseDelay,
			Max:         a.cfg.ReconnectMaxDelay,
			MaxAttempts: a.cfg.MaxReconnectAttempts,
		},
		Logger:  a.log,
		Metrics: m,
	})
	s.events = realtime.NewDispatcher(s.manager, a.log, m)
	s.store = chat.New(api, s.events,
		chat.WithLogger(a.log),
		chat.WithMetrics(m),
		chat.WithTypingTTL(a.cfg.TypingTTL),
	)
	defer s.store.Close()

	s.manager.OnStateChange(s.printState)
	defer s.events.AddEventListener(s.printEvent)()

	if opts.redisURL != "" {
		rdb, err := bridge.Dial(ctx, opts.redisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirror := bridge.NewMirror(rdb, bridge.DefaultPrefix, a.log)
		defer s.events.AddEventListener(mirror.Handle)()
		s.out.Printf("mirroring events to %s:*\n", bridge.DefaultPrefix)
	}

	s.manager.Connect(token)
	defer s.manager.Disconnect()

	if err := s.store.LoadConversations(ctx, ""); err != nil {
		return err
	}
	if err := s.store.LoadAgents(ctx); err != nil {
		a.log.Warn().Err(err).Msg("agents unavailable")
	}

	snap := s.store.Snapshot()
	s.out.Printf("%d conversation(s), %d agent(s)\n", len(snap.Conversations), len(snap.Agents))

	if opts.conversationID != "" {
		if err := s.open(ctx, opts.conversationID); err != nil {
			return err
		}
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.store.RunTypingSweeper(sweepCtx, typingSweepInterval)

	return s.readInput(ctx, opts.conversationID)
}

func serveMetrics(addr string, reg *prometheus.Registry, a *App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func (s *watchSession) open(ctx context.Context, id string) error {
	var conv *models.Conversation
	for _, c := range s.store.Snapshot().Conversations {
		if c.ID == id {
			c := c
			conv = &c
			break
		}
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", id)
	}
	s.store.SetActiveConversation(conv)
	if err := s.store.LoadMessages(ctx, id); err != nil {
		return err
	}

	s.out.Printf("-- %s with %s (%s) --\n", conv.ID, conv.Customer.Name, conv.Status)
	for _, m := range s.store.Snapshot().Messages {
		s.out.Do(func(w io.Writer) { printMessage(w, m) })
	}
	return nil
}

// readInput runs until ctx ends, /quit is typed or stdin is exhausted.
func (s *watchSession) readInput(ctx context.Context, conversationID string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		r := s.app.lineReader()
		for {
			line, err := r.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// nothing more to send; keep following events
				<-ctx.Done()
				return nil
			}
			quit, err := s.handleLine(ctx, conversationID, line)
			if err != nil {
				s.out.Printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *watchSession) handleLine(ctx context.Context, conversationID, line string) (quit bool, err error) {
	if strings.HasPrefix(line, "/") {
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return true, nil
		case "/read":
			if len(fields) != 2 {
				return false, errors.New("usage: /read <message-id>")
			}
			s.store.MarkMessageAsRead(fields[1])
			return false, nil
		case "/typing":
			if conversationID == "" {
				return false, errors.New("no conversation open")
			}
			on := len(fields) < 2 || fields[1] == "on"
			if !s.store.SetTyping(conversationID, on) {
				return false, errors.New("not connected")
			}
			return false, nil
		default:
			return false, fmt.Errorf("unknown command %s", fields[0])
		}
	}

	if conversationID == "" {
		return false, errors.New("no conversation open, start watch with --conversation")
	}
	msg, err := s.store.SendMessage(ctx, conversationID, line, nil)
	if err != nil {
		return false, err
	}
	s.app.log.Debug().Str("message_id", msg.ID).Msg("message sent")
	return false, nil
}

func (s *watchSession) printState(st realtime.State) {
	switch st {
	case realtime.StateReconnecting:
		s.out.Printf("* reconnecting (attempt %d)\n", s.manager.Attempts())
	case realtime.StateGaveUp:
		s.out.Printf("* connection lost, giving up after %d attempts\n", s.app.cfg.MaxReconnectAttempts)
	default:
		s.out.Printf("* %s\n", st)
	}
}

func (s *watchSession) printEvent(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.MessageEvent:
		s.out.Do(func(w io.Writer) { printMessage(w, e.Message) })
	case realtime.ConversationUpdateEvent:
		s.out.Printf("~ conversation %s is %s\n", e.Conversation.ID, e.Conversation.Status)
	case realtime.AgentStatusEvent:
		s.out.Printf("~ agent %s is %s\n", e.AgentID, e.Status)
	case realtime.TypingEvent:
		if e.IsTyping {
			s.out.Printf("~ %s is typing in %s\n", e.UserID, e.ConversationID)
		}
	case realtime.MessageStatusEvent:
		s.out.Printf("~ message %s %s\n", e.MessageID, e.Status)
	}
}

// lockedWriter serialises output from listener and input goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	fmt.Fprintf(l.w, format, args...)
	l.mu.Unlock()
}

func (l *lockedWriter) Do(fn func(io.Writer)) {
	l.mu.Lock()
	fn(l.w)
	l.mu.Unlock()
}
