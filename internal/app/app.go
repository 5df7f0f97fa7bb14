// Package app wires all Stagehand subsystems into a running server.
//
// The App struct owns the full lifecycle: New connects and authenticates the
// avatar host and builds every subsystem in dependency order, Run serves
// traffic until the context is cancelled, and Shutdown unwinds in reverse.
//
// For testing, inject doubles via functional options (WithAvatar,
// WithChatSource, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/action"
	"github.com/stagehand-live/stagehand/internal/audio"
	"github.com/stagehand-live/stagehand/internal/chat"
	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/controller"
	"github.com/stagehand-live/stagehand/internal/hub"
	"github.com/stagehand-live/stagehand/internal/resilience"
	"github.com/stagehand-live/stagehand/internal/say"
	"github.com/stagehand-live/stagehand/internal/server"
	"github.com/stagehand-live/stagehand/internal/template"
	"github.com/stagehand-live/stagehand/internal/tts"
	"github.com/stagehand-live/stagehand/internal/tween"
	"github.com/stagehand-live/stagehand/pkg/vts"
)

// ErrAvatarStartup wraps a failure to connect or authenticate the avatar
// host during New. main treats it as fatal.
var ErrAvatarStartup = errors.New("app: avatar startup failed")

// Avatar is the slice of the avatar host client the app drives. *vts.Client
// satisfies it.
type Avatar interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context, token string) (bool, error)
	Token() string
	CurrentModel(ctx context.Context) (*vts.CurrentModel, error)
	Expressions(ctx context.Context) ([]vts.Expression, error)
	SetExpression(ctx context.Context, file string, active bool) error
	InjectParameters(ctx context.Context, values []vts.ParameterValue, mode string) error
	Close() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	cfgPath string

	avatar     Avatar
	store      *config.Store
	modelName  string
	tweener    *tween.Tweener
	manager    *controller.Manager
	player     *audio.Player
	hub        *hub.Hub
	sched      *action.Scheduler
	templates  *template.Player
	chatSource chat.Source
	bridge     *chat.Bridge

	httpSrv *http.Server

	// addrMu guards listenAddr, set by Run and read by ListenAddr.
	addrMu     sync.Mutex
	listenAddr string

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAvatar injects an avatar client instead of dialing the configured
// endpoint.
func WithAvatar(a Avatar) Option {
	return func(app *App) { app.avatar = a }
}

// WithChatSource injects a chat event source instead of the live client.
func WithChatSource(s chat.Source) Option {
	return func(app *App) { app.chatSource = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires the server. The avatar connection and authentication happen here
// so a misconfigured or absent host fails fast: New returns an error wrapping
// [ErrAvatarStartup] and main exits non-zero.
func New(ctx context.Context, cfg *config.Config, cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, cfgPath: cfgPath}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Avatar connection and authentication ─────────────────────────
	if a.avatar == nil {
		a.avatar = vts.New(cfg.Avatar.Endpoint, cfg.Avatar.PluginName, cfg.Avatar.PluginDeveloper,
			vts.WithRequestTimeout(secondsToDuration(cfg.Avatar.RequestTimeoutSeconds)))
	}
	if err := a.avatar.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrAvatarStartup, cfg.Avatar.Endpoint, err)
	}
	a.closers = append(a.closers, a.avatar.Close)

	authed, err := a.avatar.Authenticate(ctx, cfg.Avatar.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAvatarStartup, err)
	}
	if !authed {
		return nil, fmt.Errorf("%w: host denied the plugin", ErrAvatarStartup)
	}
	slog.Info("avatar connected", "endpoint", cfg.Avatar.Endpoint)

	// Persist a refreshed token so the next start skips the approval dialog.
	if tok := a.avatar.Token(); tok != "" && tok != cfg.Avatar.Token {
		cfg.Avatar.Token = tok
		if err := config.Save(cfgPath, cfg); err != nil {
			slog.Warn("cannot persist auth token", "err", err)
		}
	}

	// ── 2. Per-model controller config ──────────────────────────────────
	a.store = config.NewStore(filepath.Join(cfg.DataDir, "configs"))
	if model, err := a.avatar.CurrentModel(ctx); err != nil {
		slog.Warn("cannot read current model, using defaults", "err", err)
	} else if model.ModelLoaded {
		a.modelName = model.ModelName
	}
	ctrlCfg, err := a.store.Load(a.modelName)
	if err != nil {
		return nil, fmt.Errorf("app: load controller config: %w", err)
	}
	// Write the config back so newly introduced keys appear in the file.
	if err := a.store.Save(a.modelName, ctrlCfg); err != nil {
		slog.Warn("cannot persist controller config", "model", a.modelName, "err", err)
	}

	// ── 3. Tweener with keep-alive ──────────────────────────────────────
	a.tweener = tween.New(a.avatar,
		tween.WithKeepAliveInterval(secondsToDuration(cfg.Avatar.KeepAliveSeconds)))
	a.closers = append(a.closers, func() error {
		a.tweener.ReleaseAll()
		a.tweener.Close()
		return nil
	})

	// ── 4. Controllers ──────────────────────────────────────────────────
	a.manager = controller.NewManager(ctrlCfg)
	a.manager.Register(
		controller.NewBlink(a.tweener, func() config.BlinkConfig { return a.manager.Config().Blink }),
		controller.NewBreathing(a.tweener, func() config.BreathingConfig { return a.manager.Config().Breathing }),
		controller.NewBodySwing(a.tweener, func() config.BodySwingConfig { return a.manager.Config().BodySwing }),
		controller.NewMouthExpression(a.tweener, func() config.MouthExpressionConfig { return a.manager.Config().MouthExpression }),
	)
	a.manager.RegisterOneShot(
		controller.NewMouthSync(a.tweener, func() config.MouthSyncConfig { return a.manager.Config().MouthSync }),
		controller.NewExpressionApply(a.avatar),
	)
	a.closers = append(a.closers, func() error {
		a.manager.StopAllIdle()
		return nil
	})

	// Operator edits to the controller config take effect without a restart.
	watcher, err := config.NewWatcher(a.store.Path(a.modelName),
		func(_, updated *config.ControllerConfig) { a.manager.SetConfig(updated) })
	if err != nil {
		slog.Warn("controller config watcher disabled", "err", err)
	} else {
		a.closers = append(a.closers, func() error {
			watcher.Stop()
			return nil
		})
	}

	// ── 5. Audio, speech, actions ───────────────────────────────────────
	a.player = audio.NewPlayer(cfg.Audio.SoundsDir,
		audio.WithMaxChannels(cfg.Audio.MaxChannels),
		audio.WithVolume(cfg.Audio.Volume))
	a.closers = append(a.closers, func() error {
		a.player.StopAll()
		return nil
	})

	a.hub = hub.New()
	a.closers = append(a.closers, func() error {
		a.hub.CloseAll()
		return nil
	})

	// A nil synthesizer leaves say actions subtitle-only.
	var synth say.Synthesizer
	if cfg.TTS.BaseURL != "" {
		ttsClient, err := tts.New(cfg.TTS.BaseURL, tts.WithLanguage(cfg.TTS.Language))
		if err != nil {
			return nil, fmt.Errorf("app: tts client: %w", err)
		}
		// A dead backend fails fast instead of stalling batches on timeouts.
		synth = resilience.GuardSynthesizer(ttsClient, resilience.CircuitBreakerConfig{Name: "tts"})
	} else {
		slog.Warn("tts disabled, speaking says will fail")
	}
	sayRunner := say.NewHandler(synth, a.player, a.hub, a.manager,
		func() string { return cfg.TTS.Voice })

	a.sched = action.NewScheduler(a.tweener, a.avatar, a.player, sayRunner)
	a.templates = template.NewPlayer(cfg.Templates.Dir)

	// ── 6. Chat bridge ──────────────────────────────────────────────────
	if cfg.Chat.Enabled {
		room := strconv.FormatInt(cfg.Chat.RoomID, 10)
		if a.chatSource == nil {
			a.chatSource = chat.NewClient(cfg.Chat.BaseURL, room,
				chat.NewCredentialStore(cfg.Chat.CredentialsFile))
		}
		a.bridge = chat.NewBridge(a.chatSource, a.hub, room,
			chat.WithTrigger(cfg.Chat.TriggerCount,
				secondsToDuration(cfg.Chat.TriggerIntervalSeconds)))
	}

	return a, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts idle animation, the chat bridge, and the HTTP server, then
// blocks until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	a.manager.StartAllIdle()

	if a.bridge != nil {
		go a.bridge.Run(ctx)
	}

	srv := server.New(ctx, a.sched, a.templates, a.player, a.avatar, a.hub,
		server.WithStaticDir(a.cfg.Server.StaticDir))
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	addr := ln.Addr().String()
	a.addrMu.Lock()
	a.listenAddr = addr
	a.addrMu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.httpSrv.Serve(ln)
	}()
	slog.Info("serving", "addr", addr)

	select {
	case err := <-serveErr:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenAddr reports the bound address once Run has started serving.
func (a *App) ListenAddr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.listenAddr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the HTTP server, saves configuration, then unwinds the
// subsystems in reverse-init order: broadcast hub, audio, idle controllers,
// tweener keep-alive, avatar connection. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
		}

		if err := config.Save(a.cfgPath, a.cfg); err != nil {
			slog.Warn("cannot save config", "err", err)
		}
		if err := a.store.Save(a.modelName, a.manager.Config()); err != nil {
			slog.Warn("cannot save controller config", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
