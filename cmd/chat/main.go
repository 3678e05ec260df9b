package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"forumchat/internal/api"
	"forumchat/internal/chat"
	"forumchat/internal/config"
	"forumchat/internal/db"
	"forumchat/internal/logger"
	"forumchat/internal/loop"
	"forumchat/internal/models"
	"forumchat/internal/telemetry"
	"forumchat/internal/tui"
	"forumchat/internal/websocket"
)

// feedOptions select the one-shot forum commands. When none is set the
// interactive chat starts.
type feedOptions struct {
	list       bool
	post       string
	comment    string
	newTitle   string
	newBody    string
	categories string
}

func (o feedOptions) active() bool {
	return o.list || o.post != "" || o.newTitle != ""
}

func main() {
	var feed feedOptions
	flag.BoolVar(&feed.list, "feed", false, "Print the latest forum posts and exit")
	flag.StringVar(&feed.post, "post", "", "Print the post with this uuid and its comments")
	flag.StringVar(&feed.comment, "comment", "", "Comment on the post given with -post before printing it")
	flag.StringVar(&feed.newTitle, "new-post", "", "Create a post with this title")
	flag.StringVar(&feed.newBody, "body", "", "Content of the post created with -new-post")
	flag.StringVar(&feed.categories, "categories", "", "Comma separated categories for -new-post")
	identifier := flag.String("login", os.Getenv("FORUMCHAT_LOGIN"), "Nickname or email to log in with")
	password := flag.String("password", os.Getenv("FORUMCHAT_PASSWORD"), "Password for -login")
	flag.Parse()

	if err := run(feed, *identifier, *password); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

func run(feed feedOptions, identifier, password string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := logger.Setup(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	slog.Info("starting chat client", "server", cfg.ServerURL, "ws", cfg.WebSocketURL, "env", cfg.Env)

	httpClient, err := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	if err != nil {
		return err
	}
	if feed.comment != "" && feed.post == "" {
		return errors.New("-comment needs -post")
	}
	if identifier == "" || password == "" {
		return errors.New("credentials required: pass -login and -password or set FORUMCHAT_LOGIN and FORUMCHAT_PASSWORD")
	}
	if err := httpClient.Login(ctx, identifier, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := httpClient.CheckSession(time.Now()); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	self, err := httpClient.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	slog.Info("logged in", "user_id", self)

	if feed.active() {
		return runFeed(ctx, httpClient, feed, os.Stdout)
	}

	cache, err := db.NewDB(cfg.CleanCachePath())
	if err != nil {
		return fmt.Errorf("open roster cache: %w", err)
	}
	defer cache.Close()

	events := loop.New()
	bridge := tui.NewBridge()

	client := chat.NewClient(events, self, chat.NewAPIHistory(httpClient, events, cfg.HTTPTimeout), bridge, chat.Options{
		PageSize:        cfg.PageSize,
		ScrollDebounce:  cfg.ScrollDebounce,
		TypingIdle:      cfg.TypingIdle,
		RemoteTypingTTL: cfg.RemoteTypingTTL,
		NotificationTTL: cfg.NotificationTTL,
		Cache:           cache,
	})
	manager := websocket.NewManager(events, client, websocket.Options{
		URL:            cfg.WebSocketURL,
		Header:         httpClient.SessionHeader,
		ReconnectDelay: cfg.ReconnectDelay,
		OnStateChange:  client.ConnectionStateChanged,
	})
	client.Attach(manager)

	cached, err := cache.LoadRoster(self)
	if err != nil {
		slog.Warn("failed to load cached roster", "error", err)
	}
	var directory []models.User
	if entries, err := httpClient.Users(ctx); err != nil {
		slog.Warn("failed to load user directory", "error", err)
	} else {
		for _, e := range entries {
			directory = append(directory, e.User())
		}
	}

	events.Post(func() {
		client.Seed(cached)
		client.Seed(directory)
		manager.Connect()
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go events.Run(loopCtx)

	actions := &userActions{Client: client, logout: make(chan struct{}, 1)}
	program := tea.NewProgram(tui.NewModel(self, actions, events.Post, bridge),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	go func() {
		<-ctx.Done()
		program.Quit()
	}()
	bridge.Attach(program)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}

	closed := make(chan struct{})
	events.Post(func() {
		client.Roster().Flush()
		manager.Shutdown()
		close(closed)
	})
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		slog.Warn("timed out closing the connection")
	}

	select {
	case <-actions.logout:
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		if err := httpClient.Logout(logoutCtx); err != nil {
			slog.Warn("server logout failed", "error", err)
		}
		if err := cache.ForgetOwner(self); err != nil {
			slog.Warn("failed to clear cached roster", "error", err)
		}
	default:
	}

	slog.Info("chat client stopped")
	return nil
}

// userActions ends the server session as well when the user logs out.
type userActions struct {
	*chat.Client
	logout chan struct{}
}

func (a *userActions) Logout() {
	a.Client.Logout()
	select {
	case a.logout <- struct{}{}:
	default:
	}
}

func runFeed(ctx context.Context, c *api.Client, opts feedOptions, w io.Writer) error {
	if opts.newTitle != "" {
		req := models.CreatePostRequest{Title: opts.newTitle, Content: opts.newBody}
		for _, name := range strings.Split(opts.categories, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.Categories = append(req.Categories, name)
			}
		}
		if err := c.CreatePost(ctx, req); err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		slog.Info("post created", "title", opts.newTitle)
	}

	if opts.post != "" {
		if opts.comment != "" {
			if err := c.CreateComment(ctx, models.CreateCommentRequest{PostUUID: opts.post, Content: opts.comment}); err != nil {
				return fmt.Errorf("create comment: %w", err)
			}
		}
		post, err := c.Post(ctx, opts.post)
		if err != nil {
			return fmt.Errorf("load post: %w", err)
		}
		return tui.RenderPost(w, post)
	}

	return printFeed(ctx, c, w)
}

func printFeed(ctx context.Context, c *api.Client, w io.Writer) error {
	posts, err := c.Posts(ctx, 0, 20, "")
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}
	categories, err := c.Categories(ctx)
	if err != nil {
		slog.Warn("failed to load categories", "error", err)
	}
	return tui.RenderFeed(w, posts, categories)
}
