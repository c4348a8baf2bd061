package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"sozuri-connect/internal/chatapi"
	"sozuri-connect/internal/config"
	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
)

const (
	agentPassword = "loadtest-password"
	noncePrefix   = "lt:"
	batchSize     = 10
)

type options struct {
	customers      int
	agents         int
	conversations  int
	messagesPerSec float64
	duration       time.Duration
	adminEmail     string
	adminPassword  string
}

type run struct {
	cfg     *config.Config
	opts    options
	log     *logger.Logger
	stats   *Stats
	sent    sync.Map // nonce -> time.Time
	widget  *chatapi.Client
	convIDs []string
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logger.New(logger.Config{Pretty: true}).Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
	}

	var opts options
	flag.IntVar(&opts.customers, "customers", 200, "simulated widget customers")
	flag.IntVar(&opts.agents, "agents", 5, "simulated agents holding a realtime connection")
	flag.IntVar(&opts.conversations, "conversations", 50, "conversations to spread customers across")
	flag.Float64Var(&opts.messagesPerSec, "rate", 1, "operations per second per customer")
	flag.DurationVar(&opts.duration, "duration", time.Minute, "simulation length")
	flag.StringVar(&opts.adminEmail, "admin-email", cfg.AdminEmail, "admin agent used for setup")
	flag.StringVar(&opts.adminPassword, "admin-password", cfg.AdminPassword, "admin agent password")
	flag.Parse()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true, Service: "loadtest"})
	log.Info().
		Int("customers", opts.customers).
		Int("agents", opts.agents).
		Float64("rate", opts.messagesPerSec).
		Dur("duration", opts.duration).
		Msg("starting load test")
	log.Info().Msg("start the server with: go run ./cmd/chatd -loadtest")

	r := &run{cfg: cfg, opts: opts, log: log, stats: &Stats{}}
	if err := r.execute(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("load test failed")
	}
}

func (r *run) execute(ctx context.Context) error {
	anon, err := chatapi.New(chatapi.Options{BaseURL: r.cfg.APIBaseURL, Timeout: 10 * time.Second})
	if err != nil {
		return err
	}
	login, err := anon.Login(ctx, r.opts.adminEmail, r.opts.adminPassword)
	if err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	admin, err := chatapi.New(chatapi.Options{
		BaseURL: r.cfg.APIBaseURL,
		Tokens:  chatapi.StaticToken(login.Token),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}

	key, err := admin.CreateAPIKey(ctx, "loadtest-"+time.Now().UTC().Format("20060102T150405"))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	defer admin.DeleteAPIKey(context.Background(), key.ID)

	r.widget, err = chatapi.New(chatapi.Options{
		BaseURL:    r.cfg.APIBaseURL,
		APIKey:     key.Key,
		HTTPClient: &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{MaxIdleConnsPerHost: 256}},
	})
	if err != nil {
		return err
	}

	if err := r.createConversations(ctx); err != nil {
		return err
	}
	r.log.Info().Int("count", len(r.convIDs)).Msg("conversations ready")

	managers, err := r.connectAgents(ctx, anon, admin)
	if err != nil {
		return err
	}
	defer func() {
		for _, m := range managers {
			m.Disconnect()
		}
	}()
	r.log.Info().Int("count", len(managers)).Msg("agents connected")

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < r.opts.customers; i++ {
		wg.Add(1)
		go r.simulateCustomer(ctx, i, &wg)
	}
	wg.Wait()
	// let the last broadcasts land
	time.Sleep(time.Second)
	duration := time.Since(start)

	r.report(duration)
	return nil
}

// createConversations opens conversations in batches through the widget.
func (r *run) createConversations(ctx context.Context) error {
	var mu sync.Mutex
	var failures []string

	for i := 0; i < r.opts.conversations; i += batchSize {
		end := i + batchSize
		if end > r.opts.conversations {
			end = r.opts.conversations
		}

		var wg sync.WaitGroup
		for j := i; j < end; j++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				conv, err := r.widget.WidgetCreateConversation(ctx, models.CreateConversationRequest{
					Customer: models.Customer{
						Name:  fmt.Sprintf("LoadTest Customer %d", id),
						Email: fmt.Sprintf("customer%d@loadtest.local", id),
					},
					Tags: []string{"loadtest"},
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, err.Error())
					return
				}
				r.convIDs = append(r.convIDs, conv.ID)
			}(j)
		}
		wg.Wait()
	}

	if len(failures) > 0 {
		r.log.Warn().Int("failed", len(failures)).Str("first", failures[0]).Msg("some conversations could not be created")
	}
	if len(r.convIDs) == 0 {
		return fmt.Errorf("no conversations created")
	}
	return nil
}

// connectAgents provisions agents and holds one realtime connection each.
func (r *run) connectAgents(ctx context.Context, anon, admin *chatapi.Client) ([]*realtime.Manager, error) {
	var managers []*realtime.Manager
	for i := 0; i < r.opts.agents; i++ {
		email := fmt.Sprintf("loadtest_agent_%d@loadtest.local", i)
		_, err := admin.CreateAgent(ctx, models.RegisterAgentRequest{
			Name:     fmt.Sprintf("LoadTest Agent %d", i),
			Email:    email,
			Password: agentPassword,
		})
		if err != nil && !chatapi.IsStatus(err, http.StatusConflict) {
			return managers, fmt.Errorf("create agent %s: %w", email, err)
		}
		login, err := anon.Login(ctx, email, agentPassword)
		if err != nil {
			return managers, fmt.Errorf("login agent %s: %w", email, err)
		}

		m := realtime.NewManager(realtime.Options{
			URL:          r.cfg.WebSocketURL,
			PingInterval: r.cfg.PingInterval,
			Backoff: realtime.Backoff{
				Base:        r.cfg.ReconnectBaseDelay,
				Max:         r.cfg.ReconnectMaxDelay,
				MaxAttempts: r.cfg.MaxReconnectAttempts,
			},
			Logger: r.log,
		})
		d := realtime.NewDispatcher(m, r.log, nil)
		d.AddEventListener(r.observe)
		m.Connect(login.Token)
		if !m.IsConnected() {
			r.log.Warn().Str("agent", email).Msg("agent could not connect")
		}
		managers = append(managers, m)
	}
	return managers, nil
}

// observe records how long a customer message took to reach an agent.
func (r *run) observe(ev realtime.Event) {
	msg, ok := ev.(realtime.MessageEvent)
	if !ok || !strings.HasPrefix(msg.Message.Content, noncePrefix) {
		return
	}
	nonce := strings.Fields(strings.TrimPrefix(msg.Message.Content, noncePrefix))
	if len(nonce) == 0 {
		return
	}
	if sent, ok := r.sent.Load(nonce[0]); ok {
		r.stats.recordDelivery(time.Since(sent.(time.Time)))
	}
}

func (r *run) simulateCustomer(ctx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / r.opts.messagesPerSec))
	defer ticker.Stop()

	endTime := time.Now().Add(r.opts.duration)
	for time.Now().Before(endTime) {
		<-ticker.C
		convID := r.convIDs[rand.Intn(len(r.convIDs))]

		// Randomly choose between read and write operations
		if rand.Float32() < 0.5 {
			nonce := uuid.NewString()
			content := fmt.Sprintf("%s%s message from customer %d", noncePrefix, nonce, id)
			start := time.Now()
			r.sent.Store(nonce, start)
			_, err := r.widget.WidgetSendMessage(ctx, convID, content)
			if err != nil {
				r.stats.recordError()
				r.log.Debug().Err(err).Msg("send failed")
				continue
			}
			r.stats.recordSuccess(time.Since(start), WriteOperation)
		} else {
			start := time.Now()
			_, err := r.widget.WidgetListMessages(ctx, convID)
			if err != nil {
				r.stats.recordError()
				r.log.Debug().Err(err).Msg("read failed")
				continue
			}
			r.stats.recordSuccess(time.Since(start), ReadOperation)
		}
	}
}

func (r *run) report(duration time.Duration) {
	s := r.stats
	s.calculateStats(duration)

	s.Lock()
	total, ok, failed := s.totalRequests, s.successRequests, s.failedRequests
	minL, maxL, rps := s.minLatency, s.maxLatency, s.requestsPerSecond
	deliveries := len(s.deliveryLatencies)
	s.Unlock()

	r.log.Info().
		Str("total_requests", humanize.Comma(total)).
		Str("successful", humanize.Comma(ok)).
		Str("failed", humanize.Comma(failed)).
		Dur("avg_latency", s.averageLatency()).
		Dur("min_latency", minL).
		Dur("max_latency", maxL).
		Dur("p99_write", s.p99(WriteOperation)).
		Dur("p99_read", s.p99(ReadOperation)).
		Str("deliveries", humanize.Comma(int64(deliveries))).
		Dur("p99_delivery", s.p99(DeliveryOperation)).
		Str("requests_per_second", humanize.FormatFloat("#,###.##", rps)).
		Dur("duration", duration).
		Msg("load test results")
}
