package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	tea "charm.land/bubbletea/v2"
	"github.com/referhub/session-client/session"
	"github.com/referhub/session-client/tui"
)

// Token store backends selectable with -token-store / TOKEN_STORE.
const (
	storeFile   = "file"
	storeRedis  = "redis"
	storeMemory = "memory"
)

// envConfig is read from the environment (and .env).
type envConfig struct {
	BaseURL             string        `env:"API_BASE_URL"          envDefault:"http://localhost:8080"`
	Timeout             time.Duration `env:"API_TIMEOUT"           envDefault:"10s"`
	RefreshTimeout      time.Duration `env:"REFRESH_TIMEOUT"       envDefault:"10s"`
	ClientVersion       string        `env:"CLIENT_VERSION"        envDefault:"dev"`
	Environment         string        `env:"APP_ENV"               envDefault:"development"`
	TokenFile           string        `env:"TOKEN_FILE"            envDefault:".referhub-session.json"`
	TokenStore          string        `env:"TOKEN_STORE"           envDefault:"file"`
	Profile             string        `env:"SESSION_PROFILE"       envDefault:"default"`
	RedisAddr           string        `env:"REDIS_ADDR"            envDefault:"localhost:6379"`
	RedisPrefix         string        `env:"REDIS_PREFIX"          envDefault:"referhub:session"`
	ExpiryCooldown      time.Duration `env:"EXPIRY_COOLDOWN"       envDefault:"1s"`
	TransportRetries    int           `env:"TRANSPORT_RETRIES"     envDefault:"0"`
	TransportRetryDelay time.Duration `env:"TRANSPORT_RETRY_DELAY" envDefault:"500ms"`
	LogLevel            string        `env:"LOG_LEVEL"             envDefault:"info"`
}

// cliConfig is the resolved configuration of one run.
type cliConfig struct {
	env envConfig

	accessToken  string
	refreshToken string

	count    int
	method   string
	endpoint string
	body     json.RawMessage

	refresh bool
	logout  bool
	whoami  bool
}

// loadConfig resolves configuration with priority: flag > env > default.
func loadConfig(args []string) (*cliConfig, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg cliConfig
	if err := env.Parse(&cfg.env); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	fs := flag.NewFlagSet("referhub-session", flag.ContinueOnError)
	baseURL := fs.String("base-url", "", "API base URL (default: http://localhost:8080 or API_BASE_URL env)")
	tokenFile := fs.String("token-file", "", "Session file (default: .referhub-session.json or TOKEN_FILE env)")
	tokenStore := fs.String("token-store", "", "Session store: file, redis or memory (or TOKEN_STORE env)")
	profile := fs.String("profile", "", "Session profile within the store (or SESSION_PROFILE env)")
	body := fs.String("body", "", "JSON request body")
	fs.StringVar(&cfg.accessToken, "access-token", "", "Seed the session with this access token")
	fs.StringVar(&cfg.refreshToken, "refresh-token", "", "Seed the session with this refresh token")
	fs.IntVar(&cfg.count, "n", 1, "Number of concurrent calls")
	fs.StringVar(&cfg.method, "method", http.MethodGet, "HTTP method")
	fs.StringVar(&cfg.endpoint, "endpoint", "", "Endpoint to call, e.g. /jobs")
	fs.BoolVar(&cfg.refresh, "refresh", false, "Force a token refresh")
	fs.BoolVar(&cfg.logout, "logout", false, "Clear the stored session and exit")
	fs.BoolVar(&cfg.whoami, "whoami", false, "Print the user ID of the stored access token")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.env.BaseURL = getConfig(*baseURL, cfg.env.BaseURL)
	cfg.env.TokenFile = getConfig(*tokenFile, cfg.env.TokenFile)
	cfg.env.TokenStore = strings.ToLower(getConfig(*tokenStore, cfg.env.TokenStore))
	cfg.env.Profile = getConfig(*profile, cfg.env.Profile)
	cfg.method = strings.ToUpper(cfg.method)

	if err := session.ValidateBaseURL(cfg.env.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	switch cfg.env.TokenStore {
	case storeFile, storeRedis, storeMemory:
	default:
		return nil, fmt.Errorf("unknown token store %q (want file, redis or memory)", cfg.env.TokenStore)
	}
	if cfg.count < 1 {
		return nil, fmt.Errorf("-n must be at least 1, got %d", cfg.count)
	}
	if *body != "" {
		if !json.Valid([]byte(*body)) {
			return nil, errors.New("-body is not valid JSON")
		}
		cfg.body = json.RawMessage(*body)
	}
	if cfg.endpoint != "" && !strings.HasPrefix(cfg.endpoint, "/") {
		cfg.endpoint = "/" + cfg.endpoint
	}

	return &cfg, nil
}

// getConfig returns the flag value if set, otherwise the env-or-default value.
func getConfig(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return envValue
}

// sessionConfig maps the CLI configuration onto the session layer's.
func (c *cliConfig) sessionConfig() session.Config {
	return session.Config{
		BaseURL:             c.env.BaseURL,
		Timeout:             c.env.Timeout,
		RefreshTimeout:      c.env.RefreshTimeout,
		ClientVersion:       c.env.ClientVersion,
		Environment:         c.env.Environment,
		ExpiryCooldown:      c.env.ExpiryCooldown,
		TransportRetries:    c.env.TransportRetries,
		TransportRetryDelay: c.env.TransportRetryDelay,
	}
}

// newLogger builds a JSON logger at level. On a TTY the TUI owns stderr, so
// only errors are logged there.
func newLogger(level string, tty bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if tty && lvl < zapcore.ErrorLevel {
		lvl = zapcore.ErrorLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// openStore opens the configured token store. The returned close func
// releases its resources.
func openStore(
	ctx context.Context,
	cfg *cliConfig,
	logger *zap.Logger,
) (session.TokenStore, string, func(), error) {
	switch cfg.env.TokenStore {
	case storeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.env.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, "", nil, fmt.Errorf("redis %s unreachable: %w", cfg.env.RedisAddr, err)
		}
		prefix := cfg.env.RedisPrefix + ":" + cfg.env.Profile
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}
		return session.NewRedisStore(rdb, prefix, logger), "redis://" + cfg.env.RedisAddr + "/" + prefix, closeFn, nil
	case storeMemory:
		return session.NewMemoryStore(session.Tokens{}), "memory", func() {}, nil
	default:
		return session.NewFileStore(cfg.env.TokenFile, cfg.env.Profile, logger), cfg.env.TokenFile, func() {}, nil
	}
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(cfg.env.BaseURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(os.Stderr)
	}

	tty := isTTY()
	logger, err := newLogger(cfg.env.LogLevel, tty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if tty {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries. Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner(cfg.env.BaseURL)
		runErr = run(ctx, cfg, d, os.Stdout, logger)
		p.Quit()
		wg.Wait()
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(cfg.env.BaseURL)
		runErr = run(ctx, cfg, d, os.Stdout, logger)
	}

	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		os.Exit(1)
	}
}

// run executes one CLI invocation. Response bodies are written to out.
func run(
	ctx context.Context,
	cfg *cliConfig,
	d tui.Displayer,
	out io.Writer,
	logger *zap.Logger,
) error {
	store, source, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer closeStore()

	var expired atomic.Bool
	m, err := session.New(cfg.sessionConfig(), store,
		session.WithLogger(logger),
		session.WithObserver(d),
		session.WithExpiredHandler(func(ctx context.Context, ev session.ExpiredEvent) error {
			expired.Store(true)
			logger.Info("sign-in required",
				zap.Stringer("episode", ev.EpisodeID),
				zap.String("reason", ev.Reason),
			)
			return nil
		}),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer m.Close()

	if cfg.logout {
		m.Logout(ctx)
		d.LoggedOut()
		return nil
	}

	if err := seedTokens(ctx, cfg, m); err != nil {
		d.TokenSaveFailed(err)
		return err
	} else if cfg.accessToken != "" || cfg.refreshToken != "" {
		d.TokenSaved(source)
	}

	if m.Tokens(ctx).Empty() {
		d.TokensNotFound(source)
	} else {
		d.TokensFound(source)
	}

	if cfg.refresh {
		if _, err := m.Refresher().Refresh(ctx); err != nil {
			d.Fatal(err)
			return err
		}
	}

	if cfg.whoami {
		userID, err := m.UserID(ctx)
		if err != nil {
			d.Fatal(err)
			return err
		}
		d.WhoAmI(userID)
		if _, err := fmt.Fprintln(out, userID); err != nil {
			err = fmt.Errorf("failed to write user ID: %w", err)
			d.Fatal(err)
			return err
		}
	}

	if cfg.endpoint == "" {
		return nil
	}

	if err := dispatch(ctx, cfg, m, d, out); err != nil {
		if expired.Load() {
			return fmt.Errorf("%w: sign in again", session.ErrSessionExpired)
		}
		return err
	}
	return nil
}

// seedTokens stores tokens passed on the command line. A token not given
// keeps the stored value.
func seedTokens(ctx context.Context, cfg *cliConfig, m *session.Manager) error {
	if cfg.accessToken == "" && cfg.refreshToken == "" {
		return nil
	}
	tokens := m.Tokens(ctx)
	if cfg.accessToken != "" {
		tokens.AccessToken = cfg.accessToken
	}
	if cfg.refreshToken != "" {
		tokens.RefreshToken = cfg.refreshToken
	}
	return m.SetTokens(ctx, tokens)
}

// dispatch sends cfg.count concurrent calls and reports each outcome.
func dispatch(
	ctx context.Context,
	cfg *cliConfig,
	m *session.Manager,
	d tui.Displayer,
	out io.Writer,
) error {
	opts := []session.CallOption{session.WithMethod(cfg.method)}
	if cfg.body != nil {
		opts = append(opts, session.WithJSONBody(cfg.body))
	}

	d.Dispatching(cfg.count, cfg.method, cfg.endpoint)
	start := time.Now()

	var succeeded, failed atomic.Int32
	var outMu sync.Mutex
	var g errgroup.Group
	for i := 1; i <= cfg.count; i++ {
		g.Go(func() error {
			callStart := time.Now()
			resp, err := m.Call(ctx, cfg.endpoint, opts...)
			if err != nil {
				failed.Add(1)
				d.CallFailed(i, err)
				return nil
			}

			outMu.Lock()
			_, err = fmt.Fprintf(out, "%s\n", resp.Body)
			outMu.Unlock()
			if err != nil {
				failed.Add(1)
				d.CallFailed(i, fmt.Errorf("failed to write response: %w", err))
				return nil
			}

			succeeded.Add(1)
			d.CallOK(i, resp.Status, time.Since(callStart))
			return nil
		})
	}
	_ = g.Wait()

	d.Done(int(succeeded.Load()), int(failed.Load()), time.Since(start))

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d calls failed", n, cfg.count)
	}
	return nil
}
