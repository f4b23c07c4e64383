package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/stellarlinkco/myclaw/internal/bus"
	"github.com/stellarlinkco/myclaw/internal/channel"
	"github.com/stellarlinkco/myclaw/internal/config"
	"github.com/stellarlinkco/myclaw/internal/cron"
	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/llm"
	"github.com/stellarlinkco/myclaw/internal/memory"
	"github.com/stellarlinkco/myclaw/internal/orchestrator"
	"github.com/stellarlinkco/myclaw/internal/persona"
)

// Options for creating a Gateway.
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
}

// Gateway wires the channel adapters, the long-term memory engine, the
// maintenance scheduler, and the conversation orchestration core (C12)
// into one running process.
type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	cron       *cron.Service
	core       *orchestrator.Core
	memEngine  *memory.Engine
	memLLM     memory.LLMClient
	extraction *memory.ExtractionService
	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	if err := g.initMemory(); err != nil {
		return nil, err
	}

	g.core = orchestrator.New(cfg.Orchestrator)
	g.core.Send = g.sendText
	g.core.OnReplyCommitted = func(sessionKey, userID, text string) {
		if g.extraction != nil {
			go g.extraction.BufferMessage(sessionKeyPlatform(sessionKey), userID, "assistant", text)
		}
	}

	if profiles, err := persona.Load(cfg.Persona.Dir); err != nil {
		log.Printf("[gateway] persona load warning: %v", err)
	} else {
		g.core.Personas = persona.NewRegistry(profiles)
	}

	chatClient, err := llm.NewAnthropicChat(llm.Config{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Agent.Model,
		MaxTokens: cfg.Agent.MaxTokens,
	})
	if err != nil {
		log.Printf("[gateway] llm client warning: %v (replies disabled until configured)", err)
	} else {
		g.core.LLM = chatClient
	}

	if cfg.Memory.Enabled {
		memProvider := &memory.Provider{Engine: g.memEngine}
		g.core.Memory = memProvider
		g.core.MemoryWriter = memProvider
	}

	g.signalChan = opts.SignalChan

	g.cron = cron.NewService(filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json"))
	g.cron.OnJob = g.runCronJob

	chMgr, err := channel.NewChannelManagerWithGateway(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		_ = g.memEngine.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// initMemory opens the SQLite-backed layered memory engine and wires
// its retrieval/embedding/rerank runtime configuration.
func (g *Gateway) initMemory() error {
	cfg := g.cfg
	dbPath := strings.TrimSpace(cfg.Memory.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
	}
	engine, err := memory.NewEngine(dbPath)
	if err != nil {
		return fmt.Errorf("create memory engine: %w", err)
	}
	g.memEngine = engine

	if projects, err := g.memEngine.LoadKnownProjects(); err != nil {
		log.Printf("[memory] load known projects warning: %v", err)
	} else {
		g.memEngine.SetKnownProjects(projects)
	}

	g.memEngine.SetRetrievalConfig(cfg.Memory.Retrieval)
	if strings.EqualFold(strings.TrimSpace(cfg.Memory.Retrieval.Mode), config.MemoryRetrievalModeEnhanced) {
		g.memEngine.SetQueryExpander(memory.NewQueryExpander(cfg))
		if cfg.Memory.Rerank.Enabled {
			g.memEngine.SetReranker(memory.NewReranker(cfg))
		}
	}
	if cfg.Memory.Embedding.Enabled {
		embeddingModel := strings.TrimSpace(cfg.Memory.Embedding.Model)
		if embeddingModel == "" {
			embeddingModel = strings.TrimSpace(cfg.Memory.Model)
		}
		if embeddingModel == "" {
			embeddingModel = strings.TrimSpace(cfg.Agent.Model)
		}
		g.memEngine.SetEmbedder(memory.NewEmbedder(cfg), embeddingModel, cfg.Memory.Embedding.TimeoutMs)
	}

	g.memLLM = memory.NewLLMClient(cfg)
	g.extraction = memory.NewExtractionService(g.memEngine, g.memLLM, cfg.Memory.Extraction)
	return nil
}

// sendText is the orchestrator's outbound capability: it pushes a
// message onto the bus, which DispatchOutbound routes to the channel
// registered under platform.
func (g *Gateway) sendText(platform, groupID, text, replyTo string) error {
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: platform,
		ChatID:  groupID,
		Content: text,
		ReplyTo: replyTo,
	}
	return nil
}

func (g *Gateway) runCronJob(job cron.CronJob) (string, error) {
	switch job.Payload.Message {
	case "__internal:memory:daily-compress":
		return "ok", g.memEngine.DailyCompress(g.memLLM)
	case "__internal:memory:weekly-compress":
		return "ok", g.memEngine.WeeklyDeepCompress(g.memLLM)
	case "__internal:session:gc":
		ttl := time.Duration(g.cfg.Orchestrator.SessionTTLMs) * time.Millisecond
		retired := g.core.GC(time.Now(), ttl)
		return fmt.Sprintf("retired %d idle sessions", retired), nil
	}
	return "", fmt.Errorf("unknown internal job: %s", job.Payload.Message)
}

func (g *Gateway) ensureInternalJobs() error {
	type jobSpec struct {
		name string
		msg  string
		expr string
	}
	specs := []jobSpec{
		{"__internal_memory_daily_compress", "__internal:memory:daily-compress", "0 0 3 * * *"},
		{"__internal_memory_weekly_compress", "__internal:memory:weekly-compress", "0 0 4 * * 1"},
		{"__internal_session_gc", "__internal:session:gc", "0 */10 * * * *"},
	}

	existing := map[string]bool{}
	for _, job := range g.cron.ListJobs() {
		existing[job.Payload.Message] = true
		existing[job.Name] = true
	}

	for _, spec := range specs {
		if existing[spec.msg] || existing[spec.name] {
			continue
		}
		if _, err := g.cron.AddJob(spec.name, cron.Schedule{Kind: "cron", Expr: spec.expr}, cron.Payload{Message: spec.msg}); err != nil {
			return err
		}
	}
	return nil
}

// toChatEvent converts an adapter's bus.InboundMessage into the
// orchestrator's normalized event.ChatEvent.
func toChatEvent(msg bus.InboundMessage) event.ChatEvent {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return event.ChatEvent{
		Platform:    msg.Channel,
		GroupID:     msg.ChatID,
		UserID:      msg.SenderID,
		RawText:     msg.Content,
		Timestamp:   ts,
		IngestTime:  time.Now(),
		MentionsBot: msg.MentionsBot,
		FromBot:     msg.FromBot,
		UserName:    msg.UserName,
		GroupName:   msg.GroupName,
		IsPrivate:   msg.IsPrivate,
	}
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		log.Printf("[gateway] ensure internal jobs warning: %v", err)
	}

	if g.extraction != nil {
		g.extraction.Start(ctx)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop feeds every inbound bus message into the orchestration
// core and buffers it for memory extraction.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			if g.extraction != nil {
				go g.extraction.BufferMessage(msg.Channel, msg.SenderID, "user", msg.Content)
			}

			g.core.HandleEvent(toChatEvent(msg))
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	if g.extraction != nil {
		g.extraction.Stop()
	}
	g.cron.Stop()
	g.core.Shutdown()
	if g.memEngine != nil {
		if err := g.memEngine.Close(); err != nil {
			log.Printf("[gateway] close memory engine warning: %v", err)
		}
	}
	_ = g.channels.StopAll()
	log.Printf("[gateway] shutdown complete")
	return nil
}

// sessionKeyPlatform extracts the platform prefix from a
// "platform:groupId" session key, for handing back to the extraction
// service's channel-keyed buffer.
func sessionKeyPlatform(sessionKey string) string {
	if i := strings.Index(sessionKey, ":"); i >= 0 {
		return sessionKey[:i]
	}
	return sessionKey
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
