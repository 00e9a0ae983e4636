package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/park285/anygpt-chess/internal/board"
	"gopkg.in/yaml.v3"
)

const (
	ModeRemote      = "remote"
	ModeInteractive = "interactive"
	ModeMock        = "mock"
	ModeEngine      = "engine"

	// DefaultConfigFile is looked up under the XDG config directories.
	DefaultConfigFile = "anygpt-chess/config.yaml"
)

type CompletionConfig struct {
	Mode        string            `yaml:"mode"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Timeout     time.Duration     `yaml:"timeout"`
	Retries     int               `yaml:"retries"`
	MockReplies []string          `yaml:"mock_replies"`
	Headers     map[string]string `yaml:"headers"`

	// InteractiveTimeout bounds how long a human may take per move. Zero
	// waits forever.
	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`
}

type EngineConfig struct {
	StockfishPath  string `yaml:"stockfish_path"`
	MoveTimeMillis int    `yaml:"movetime_ms"`
	Depth          int    `yaml:"depth"`
	SkillLevel     int    `yaml:"skill_level"`
	Threads        int    `yaml:"threads"`
	HashMB         int    `yaml:"hash_mb"`
	MultiPV        int    `yaml:"multipv"`
}

type GameConfig struct {
	MaxTurns       int    `yaml:"max_turns"`
	StartFEN       string `yaml:"start_fen"`
	BoardImagePath string `yaml:"board_image_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	Caller bool   `yaml:"caller"`
}

type AppConfig struct {
	Completion CompletionConfig `yaml:"completion"`
	Engine     EngineConfig     `yaml:"engine"`
	Game       GameConfig       `yaml:"game"`
	Log        LogConfig        `yaml:"log"`

	// Source is the file the config was read from, empty when none was used.
	Source string `yaml:"-"`
}

func Defaults() *AppConfig {
	return &AppConfig{
		Completion: CompletionConfig{
			Mode:      ModeInteractive,
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 10,
			Timeout:   30 * time.Second,
			Retries:   1,
		},
		Engine: EngineConfig{
			MoveTimeMillis: 500,
		},
		Game: GameConfig{
			MaxTurns: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "legacy",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, then validates it. path wins over $CHESS_CONFIG, which wins
// over the XDG default location.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()

	file, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := cfg.readFile(file); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if p := strings.TrimSpace(path); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(os.Getenv("CHESS_CONFIG")); p != "" {
		return p, nil
	}
	if p, err := xdg.SearchConfigFile(DefaultConfigFile); err == nil {
		return p, nil
	}
	return "", nil
}

func (c *AppConfig) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Source = path
	return nil
}

func (c *AppConfig) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("COMPLETION_MODE")); v != "" {
		c.Completion.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_BASE_URL")); v != "" {
		c.Completion.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_API_KEY")); v != "" {
		c.Completion.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && c.Completion.APIKey == "" {
		c.Completion.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_MODEL")); v != "" {
		c.Completion.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_MAX_TOKENS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMPLETION_MAX_TOKENS: %w", err)
		}
		c.Completion.MaxTokens = n
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COMPLETION_TIMEOUT: %w", err)
		}
		c.Completion.Timeout = d
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMPLETION_RETRIES: %w", err)
		}
		c.Completion.Retries = n
	}
	if v := strings.TrimSpace(os.Getenv("COMPLETION_INTERACTIVE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COMPLETION_INTERACTIVE_TIMEOUT: %w", err)
		}
		c.Completion.InteractiveTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MOCK_REPLIES")); v != "" {
		c.Completion.MockReplies = splitList(v)
	}

	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		c.Engine.StockfishPath = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_MOVETIME_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ENGINE_MOVETIME_MS: %w", err)
		}
		c.Engine.MoveTimeMillis = n
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_MULTIPV")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ENGINE_MULTIPV: %w", err)
		}
		c.Engine.MultiPV = n
	}

	if v := strings.TrimSpace(os.Getenv("GAME_MAX_TURNS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GAME_MAX_TURNS: %w", err)
		}
		c.Game.MaxTurns = n
	}
	if v := strings.TrimSpace(os.Getenv("GAME_START_FEN")); v != "" {
		c.Game.StartFEN = v
	}
	if v := strings.TrimSpace(os.Getenv("BOARD_IMAGE_PATH")); v != "" {
		c.Game.BoardImagePath = v
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		c.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		c.Log.File = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_CALLER")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_CALLER: %w", err)
		}
		c.Log.Caller = b
	}
	return nil
}

// Validate checks the settings the selected mode depends on.
func (c *AppConfig) Validate() error {
	c.Completion.Mode = strings.ToLower(strings.TrimSpace(c.Completion.Mode))
	switch c.Completion.Mode {
	case ModeRemote:
		if strings.TrimSpace(c.Completion.BaseURL) == "" {
			return errors.New("completion.base_url is required in remote mode")
		}
		if strings.TrimSpace(c.Completion.Model) == "" {
			return errors.New("completion.model is required in remote mode")
		}
	case ModeEngine:
		if strings.TrimSpace(c.Engine.StockfishPath) == "" {
			return errors.New("engine.stockfish_path (STOCKFISH_PATH) is required in engine mode")
		}
	case ModeMock:
		if len(c.Completion.MockReplies) == 0 {
			return errors.New("completion.mock_replies (MOCK_REPLIES) is required in mock mode")
		}
	case ModeInteractive:
	default:
		return fmt.Errorf("unknown completion mode %q", c.Completion.Mode)
	}

	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be > 0: %d", c.Completion.MaxTokens)
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("completion.timeout must be > 0: %s", c.Completion.Timeout)
	}
	if c.Completion.InteractiveTimeout < 0 {
		return fmt.Errorf("completion.interactive_timeout must be >= 0: %s", c.Completion.InteractiveTimeout)
	}
	if c.Engine.MultiPV < 0 {
		return fmt.Errorf("engine.multipv must be >= 0: %d", c.Engine.MultiPV)
	}
	if c.Completion.Retries < 0 {
		return fmt.Errorf("completion.retries must be >= 0: %d", c.Completion.Retries)
	}
	if c.Game.MaxTurns <= 0 {
		return fmt.Errorf("game.max_turns must be > 0: %d", c.Game.MaxTurns)
	}
	if fen := strings.TrimSpace(c.Game.StartFEN); fen != "" {
		if err := board.Validate(fen); err != nil {
			return fmt.Errorf("game.start_fen: %w", err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
