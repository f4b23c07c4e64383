package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultTemperature       = 0.7
	DefaultMaxToolIterations = 20
	DefaultExecTimeout       = 60
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 18790
	DefaultBufSize           = 100
	DefaultMemoryQuietGap    = "3m"
	DefaultMemoryTokenBudget = 0.6
	DefaultMemoryDailyFlush  = "03:00"

	MemoryRetrievalModeClassic  = "classic"
	MemoryRetrievalModeEnhanced = "enhanced"

	DefaultMemoryRetrievalMode           = MemoryRetrievalModeClassic
	DefaultMemoryStrongSignalThreshold   = 0.82
	DefaultMemoryStrongSignalGap         = 0.12
	DefaultMemoryRetrievalCandidateLimit = 24
	DefaultMemoryRetrievalRerankLimit    = 6
	DefaultMemoryEmbeddingTimeoutMs      = 8000
	DefaultMemoryRerankTimeoutMs         = 5000
	DefaultMemoryEmbeddingBatchSize      = 16
	DefaultMemoryRerankTopN              = 6

	DefaultDebounceDelayMs         = 5000
	DefaultHardCooldownMs          = 5000
	DefaultSoftCooldownMs          = 12000
	DefaultSoftSkipProbability     = 0.65
	DefaultTypingDelayMinMs        = 2800
	DefaultTypingDelayMaxMs        = 8000
	DefaultSegmentDelayMaxMs       = 3000
	DefaultRingBufferMaxTurns      = 50
	DefaultActivityWindowMs        = 5 * 60 * 1000
	DefaultActivityNormalizer      = 10
	DefaultEnergyRecoveryPerMinute = 0.05
	DefaultEnergyCostPerReply      = 0.10
	DefaultInterruptThreshold      = 3
	DefaultQuoteMessageGapThreshold = 3
	DefaultStaleMaxEventLagMs      = 30000
	DefaultSessionTTLMs            = 6 * 60 * 60 * 1000
)

type Config struct {
	Agent        AgentConfig        `json:"agent"`
	Channels     ChannelsConfig     `json:"channels"`
	Provider     ProviderConfig     `json:"provider"`
	Tools        ToolsConfig        `json:"tools"`
	Gateway      GatewayConfig      `json:"gateway"`
	Memory       MemoryConfig       `json:"memory"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Persona      PersonaConfig      `json:"persona"`
}

// OrchestratorConfig holds the conversation orchestration pipeline's
// enumerated configuration surface (§6): debounce window, cooldown
// knobs, typing/segment delay clamps, ring buffer size, activity/energy
// tuning, the typing-interruption threshold, the quote reply-to gap,
// and the stale-backfill cutoff.
type OrchestratorConfig struct {
	DebounceDelayMs     int     `json:"debounceDelayMs,omitempty"`
	HardCooldownMs      int     `json:"hardCooldownMs,omitempty"`
	SoftCooldownMs      int     `json:"softCooldownMs,omitempty"`
	SoftSkipProbability float64 `json:"softSkipProbability,omitempty"`
	TypingDelayMinMs    int     `json:"typingDelayMinMs,omitempty"`
	TypingDelayMaxMs    int     `json:"typingDelayMaxMs,omitempty"`
	SegmentDelayMaxMs   int     `json:"segmentDelayMaxMs,omitempty"`
	RingBufferMaxTurns  int     `json:"ringBufferMaxTurns,omitempty"`
	ActivityWindowMs    int     `json:"activityWindowMs,omitempty"`
	ActivityNormalizer  float64 `json:"activityNormalizer,omitempty"`
	EnergyRecoveryPerMin float64 `json:"energyRecoveryPerMinute,omitempty"`
	EnergyCostPerReply   float64 `json:"energyCostPerReply,omitempty"`
	InterruptThreshold   int     `json:"interruptThreshold,omitempty"`
	QuoteMessageGapThreshold int `json:"quoteMessageGapThreshold,omitempty"`
	StaleMaxEventLagMs   int     `json:"staleMaxEventLagMs,omitempty"`
	SessionTTLMs         int     `json:"sessionTtlMs,omitempty"`
}

// PersonaConfig points at the persona bundle directory and default name.
type PersonaConfig struct {
	Dir     string `json:"dir,omitempty"`
	Default string `json:"default,omitempty"`
}

type MemoryConfig struct {
	Enabled    bool             `json:"enabled"`
	Model      string           `json:"model,omitempty"`
	MaxTokens  int              `json:"maxTokens,omitempty"`
	DBPath     string           `json:"dbPath,omitempty"`
	Provider   *ProviderConfig  `json:"provider,omitempty"`
	Extraction ExtractionConfig `json:"extraction"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Rerank     RerankConfig     `json:"rerank"`
}

type ExtractionConfig struct {
	QuietGap    string  `json:"quietGap,omitempty"`
	TokenBudget float64 `json:"tokenBudget,omitempty"`
	DailyFlush  string  `json:"dailyFlush,omitempty"`
}

// RetrievalConfig selects and tunes the memory retrieval strategy. The
// "classic" mode is a single FTS lookup; "enhanced" adds query
// expansion, vector search, and RRF fusion ahead of reranking.
type RetrievalConfig struct {
	Mode                  string  `json:"mode,omitempty"`
	StrongSignalThreshold float64 `json:"strongSignalThreshold,omitempty"`
	StrongSignalGap       float64 `json:"strongSignalGap,omitempty"`
	CandidateLimit        int     `json:"candidateLimit,omitempty"`
	RerankLimit           int     `json:"rerankLimit,omitempty"`
}

// EmbeddingConfig wires optional embedding generation for tier-2
// memory rows, used by the enhanced retrieval path's vector search.
type EmbeddingConfig struct {
	Enabled   bool   `json:"enabled"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

// RerankConfig wires an optional reranking pass over fused retrieval
// candidates before they're fed to the context builder.
type RerankConfig struct {
	Enabled   bool   `json:"enabled"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	TopN      int    `json:"topN,omitempty"`
}

type AgentConfig struct {
	Workspace         string  `json:"workspace"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Feishu   FeishuConfig   `json:"feishu"`
	WeCom    WeComConfig    `json:"wecom"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	WebUI    WebUIConfig    `json:"webui"`
}

// WeComConfig configures the WeCom (企业微信) callback webhook channel.
type WeComConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	EncodingAESKey string   `json:"encodingAesKey"`
	ReceiveID      string   `json:"receiveId"`
	Port           int      `json:"port,omitempty"`
	AllowFrom      []string `json:"allowFrom"`
}

// WhatsAppConfig configures the whatsmeow-backed WhatsApp channel.
type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	JID       string   `json:"jid,omitempty"`
	StorePath string   `json:"storePath,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

// WebUIConfig configures the local browser-based chat channel. Its port
// is taken from GatewayConfig, not from this struct.
type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type FeishuConfig struct {
	Enabled           bool     `json:"enabled"`
	AppID             string   `json:"appId"`
	AppSecret         string   `json:"appSecret"`
	VerificationToken string   `json:"verificationToken"`
	EncryptKey        string   `json:"encryptKey,omitempty"`
	Port              int      `json:"port,omitempty"`
	AllowFrom         []string `json:"allowFrom"`
}

type ToolsConfig struct {
	BraveAPIKey         string `json:"braveApiKey,omitempty"`
	ExecTimeout         int    `json:"execTimeout"`
	RestrictToWorkspace bool   `json:"restrictToWorkspace"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".myclaw", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Tools: ToolsConfig{
			ExecTimeout:         DefaultExecTimeout,
			RestrictToWorkspace: true,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Memory: MemoryConfig{
			Enabled: false,
			Extraction: ExtractionConfig{
				QuietGap:    DefaultMemoryQuietGap,
				TokenBudget: DefaultMemoryTokenBudget,
				DailyFlush:  DefaultMemoryDailyFlush,
			},
			Retrieval: RetrievalConfig{
				Mode:                  DefaultMemoryRetrievalMode,
				StrongSignalThreshold: DefaultMemoryStrongSignalThreshold,
				StrongSignalGap:       DefaultMemoryStrongSignalGap,
				CandidateLimit:        DefaultMemoryRetrievalCandidateLimit,
				RerankLimit:           DefaultMemoryRetrievalRerankLimit,
			},
			Embedding: EmbeddingConfig{
				Enabled:   false,
				TimeoutMs: DefaultMemoryEmbeddingTimeoutMs,
				BatchSize: DefaultMemoryEmbeddingBatchSize,
			},
			Rerank: RerankConfig{
				Enabled:   false,
				TimeoutMs: DefaultMemoryRerankTimeoutMs,
				TopN:      DefaultMemoryRerankTopN,
			},
		},
		Orchestrator: OrchestratorConfig{
			DebounceDelayMs:          DefaultDebounceDelayMs,
			HardCooldownMs:           DefaultHardCooldownMs,
			SoftCooldownMs:           DefaultSoftCooldownMs,
			SoftSkipProbability:      DefaultSoftSkipProbability,
			TypingDelayMinMs:         DefaultTypingDelayMinMs,
			TypingDelayMaxMs:         DefaultTypingDelayMaxMs,
			SegmentDelayMaxMs:        DefaultSegmentDelayMaxMs,
			RingBufferMaxTurns:       DefaultRingBufferMaxTurns,
			ActivityWindowMs:         DefaultActivityWindowMs,
			ActivityNormalizer:       DefaultActivityNormalizer,
			EnergyRecoveryPerMin:     DefaultEnergyRecoveryPerMinute,
			EnergyCostPerReply:       DefaultEnergyCostPerReply,
			InterruptThreshold:       DefaultInterruptThreshold,
			QuoteMessageGapThreshold: DefaultQuoteMessageGapThreshold,
			StaleMaxEventLagMs:       DefaultStaleMaxEventLagMs,
			SessionTTLMs:             DefaultSessionTTLMs,
		},
		Persona: PersonaConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".myclaw")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("MYCLAW_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_AUTH_TOKEN"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("MYCLAW_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("MYCLAW_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if appID := os.Getenv("MYCLAW_FEISHU_APP_ID"); appID != "" {
		cfg.Channels.Feishu.AppID = appID
	}
	if appSecret := os.Getenv("MYCLAW_FEISHU_APP_SECRET"); appSecret != "" {
		cfg.Channels.Feishu.AppSecret = appSecret
	}
	if enabled := os.Getenv("MYCLAW_MEMORY_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Memory.Enabled = parsed
		}
	}
	if model := os.Getenv("MYCLAW_MEMORY_MODEL"); model != "" {
		cfg.Memory.Model = model
	}
	if key := os.Getenv("MYCLAW_MEMORY_API_KEY"); key != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.APIKey = key
	}
	if url := os.Getenv("MYCLAW_MEMORY_BASE_URL"); url != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.BaseURL = url
	}
	if dbPath := os.Getenv("MYCLAW_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if maxTokens := os.Getenv("MYCLAW_MEMORY_MAX_TOKENS"); maxTokens != "" {
		if parsed, err := strconv.Atoi(maxTokens); err == nil {
			cfg.Memory.MaxTokens = parsed
		}
	}
	if quietGap := os.Getenv("MYCLAW_MEMORY_QUIET_GAP"); quietGap != "" {
		cfg.Memory.Extraction.QuietGap = quietGap
	}
	if tokenBudget := os.Getenv("MYCLAW_MEMORY_TOKEN_BUDGET"); tokenBudget != "" {
		if parsed, err := strconv.ParseFloat(tokenBudget, 64); err == nil {
			cfg.Memory.Extraction.TokenBudget = parsed
		}
	}
	if dailyFlush := os.Getenv("MYCLAW_MEMORY_DAILY_FLUSH"); dailyFlush != "" {
		cfg.Memory.Extraction.DailyFlush = dailyFlush
	}
	if mode := os.Getenv("MYCLAW_MEMORY_RETRIEVAL_MODE"); mode != "" {
		cfg.Memory.Retrieval.Mode = mode
	}
	if enabled := os.Getenv("MYCLAW_MEMORY_EMBEDDING_ENABLED"); enabled != "" {
		cfg.Memory.Embedding.Enabled = enabled == "true" || enabled == "1"
	}
	if model := os.Getenv("MYCLAW_MEMORY_EMBEDDING_MODEL"); model != "" {
		cfg.Memory.Embedding.Model = model
	}
	if enabled := os.Getenv("MYCLAW_MEMORY_RERANK_ENABLED"); enabled != "" {
		cfg.Memory.Rerank.Enabled = enabled == "true" || enabled == "1"
	}
	if model := os.Getenv("MYCLAW_MEMORY_RERANK_MODEL"); model != "" {
		cfg.Memory.Rerank.Model = model
	}
	if v := os.Getenv("MYCLAW_ORCH_DEBOUNCE_DELAY_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.DebounceDelayMs = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_HARD_COOLDOWN_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.HardCooldownMs = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_SOFT_COOLDOWN_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.SoftCooldownMs = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_SOFT_SKIP_PROBABILITY"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Orchestrator.SoftSkipProbability = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_INTERRUPT_THRESHOLD"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.InterruptThreshold = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_QUOTE_MESSAGE_GAP_THRESHOLD"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.QuoteMessageGapThreshold = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_STALE_MAX_EVENT_LAG_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.StaleMaxEventLagMs = parsed
		}
	}
	if v := os.Getenv("MYCLAW_ORCH_SESSION_TTL_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.SessionTTLMs = parsed
		}
	}
	if v := os.Getenv("MYCLAW_PERSONA_DIR"); v != "" {
		cfg.Persona.Dir = v
	}
	if v := os.Getenv("MYCLAW_PERSONA_DEFAULT"); v != "" {
		cfg.Persona.Default = v
	}

	if cfg.Orchestrator.DebounceDelayMs <= 0 {
		cfg.Orchestrator.DebounceDelayMs = DefaultDebounceDelayMs
	}
	if cfg.Orchestrator.RingBufferMaxTurns <= 0 {
		cfg.Orchestrator.RingBufferMaxTurns = DefaultRingBufferMaxTurns
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Memory.Extraction.QuietGap == "" {
		cfg.Memory.Extraction.QuietGap = DefaultMemoryQuietGap
	}
	if cfg.Memory.Extraction.TokenBudget <= 0 {
		cfg.Memory.Extraction.TokenBudget = DefaultMemoryTokenBudget
	}
	if cfg.Memory.Extraction.DailyFlush == "" {
		cfg.Memory.Extraction.DailyFlush = DefaultMemoryDailyFlush
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
