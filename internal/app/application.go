// Package app assembles the Sportsblock services and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"

	"github.com/sportsblock/sportsblock/internal/app/services/custodian"
	feedsvc "github.com/sportsblock/sportsblock/internal/app/services/feeds"
	leaderboardsvc "github.com/sportsblock/sportsblock/internal/app/services/leaderboard"
	mediasvc "github.com/sportsblock/sportsblock/internal/app/services/media"
	notificationsvc "github.com/sportsblock/sportsblock/internal/app/services/notifications"
	postsvc "github.com/sportsblock/sportsblock/internal/app/services/posts"
	predictionsvc "github.com/sportsblock/sportsblock/internal/app/services/predictions"
	pricefeedsvc "github.com/sportsblock/sportsblock/internal/app/services/pricefeed"
	usersvc "github.com/sportsblock/sportsblock/internal/app/services/users"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
	"github.com/sportsblock/sportsblock/internal/chain"
	"github.com/sportsblock/sportsblock/internal/chain/monitor"
	"github.com/sportsblock/sportsblock/internal/config"
	"github.com/sportsblock/sportsblock/internal/jobs"
	"github.com/sportsblock/sportsblock/internal/realtime"
	"github.com/sportsblock/sportsblock/internal/system"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Custodian     storage.CustodianStore
	Predictions   storage.PredictionStore
	Leaderboard   storage.LeaderboardStore
	PriceFeeds    storage.PriceFeedStore
	Posts         storage.PostStore
	Notifications storage.NotificationStore
	Cursors       storage.CursorStore
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Config *config.Config
	Chain  *chain.Client
	Hub    *realtime.Hub

	Users         *usersvc.Service
	Custodian     *custodian.Service
	Predictions   *predictionsvc.Service
	Posts         *postsvc.Service
	Feeds         *feedsvc.Service
	Notifications *notificationsvc.Service
	PriceFeeds    *pricefeedsvc.Service
	Leaderboard   *leaderboardsvc.Service
	Media         *mediasvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Custodian == nil {
		stores.Custodian = mem
	}
	if stores.Predictions == nil {
		stores.Predictions = mem
	}
	if stores.Leaderboard == nil {
		stores.Leaderboard = mem
	}
	if stores.PriceFeeds == nil {
		stores.PriceFeeds = mem
	}
	if stores.Posts == nil {
		stores.Posts = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}
	if stores.Cursors == nil {
		stores.Cursors = mem
	}

	manager := system.NewManager()

	chainClient, err := chain.NewClient(cfg.Chain.Nodes,
		chain.WithMaxRetries(cfg.Chain.MaxRetries),
		chain.WithLogger(log.WithField("component", "chain")),
	)
	if err != nil {
		return nil, fmt.Errorf("build chain client: %w", err)
	}

	var custodianService *custodian.Service
	if cfg.Custodian.MasterKey != "" {
		custodianService, err = custodian.New(stores.Custodian, []byte(cfg.Custodian.MasterKey), log.WithField("component", "custodian"))
		if err != nil {
			return nil, fmt.Errorf("build custodian: %w", err)
		}
	} else {
		log.Warn("custodian master key not set; custodial accounts disabled")
	}

	var userCustodian usersvc.Custodian
	if custodianService != nil {
		userCustodian = custodianService
	}
	userService := usersvc.New(stores.Users, userCustodian, log.WithField("component", "users"))

	notificationService := notificationsvc.New(stores.Notifications, log.WithField("component", "notifications"))

	var treasury predictionsvc.Treasury
	if custodianService != nil && cfg.Chain.EscrowAccount != "" {
		treasury = predictionsvc.NewChainTreasury(
			chainClient,
			&escrowSigner{custodian: custodianService, account: cfg.Chain.EscrowAccount},
			cfg.Chain.ChainID,
			cfg.Chain.EscrowAccount,
		)
	} else {
		log.Warn("escrow payouts disabled; settlement records payouts without broadcasting")
	}

	predictionService := predictionsvc.New(
		stores.Predictions,
		predictionsvc.NewChainVerifier(chainClient),
		treasury,
		notificationService,
		cfg.Chain.EscrowAccount,
		log.WithField("component", "predictions"),
	)

	var signers postsvc.SignerProvider
	if custodianService != nil {
		signers = &postingSigners{custodian: custodianService}
	}
	postService := postsvc.New(stores.Posts, chainClient, signers, cfg.Chain.ChainID, log.WithField("component", "posts"))
	feedService := feedsvc.New(chainClient, stores.Posts, log.WithField("component", "feeds"))

	priceFeedService := pricefeedsvc.New(stores.PriceFeeds, log.WithField("component", "pricefeed"))
	leaderboardService := leaderboardsvc.New(stores.Predictions, stores.Leaderboard, log.WithField("component", "leaderboard"))
	mediaService := mediasvc.New(mediasvc.Config{
		GifSearchURL: cfg.Media.GifSearchURL,
		GifAPIKey:    cfg.Media.GifAPIKey,
		ImageGenURL:  cfg.Media.ImageGenURL,
		ImageGenKey:  cfg.Media.ImageGenKey,
		Timeout:      cfg.Media.RequestTimeout,
	}, log.WithField("component", "media"))

	app := &Application{
		manager:       manager,
		log:           log,
		Config:        cfg,
		Chain:         chainClient,
		Users:         userService,
		Custodian:     custodianService,
		Predictions:   predictionService,
		Posts:         postService,
		Feeds:         feedService,
		Notifications: notificationService,
		PriceFeeds:    priceFeedService,
		Leaderboard:   leaderboardService,
		Media:         mediaService,
	}

	// Realtime fan-out rides on redis; without it, monitor events still
	// land in the notification store.
	var eventPublisher monitor.Publisher
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.Hub = realtime.NewHub(originChecker(cfg.Server.AllowedOrigins), log.WithField("component", "realtime"))
		eventPublisher = realtime.NewPublisher(rdb)

		subscriber := realtime.NewSubscriber(rdb, app.Hub, log.WithField("component", "realtime"))
		if err := manager.Register(subscriber); err != nil {
			return nil, fmt.Errorf("register realtime subscriber: %w", err)
		}
	} else {
		log.Warn("redis not configured; realtime notifications disabled")
	}

	sink := notificationsvc.NewEventSink(notificationService, eventPublisher)
	blockMonitor := monitor.New(chainClient, stores.Cursors, sink, monitor.Config{
		CustomJSONID:     cfg.Chain.CustomJSONID,
		EscrowAccount:    cfg.Chain.EscrowAccount,
		Interval:         cfg.Chain.PollInterval,
		MaxBlocksPerTick: cfg.Chain.MaxBlocksPerTick,
	}, log.WithField("component", "monitor"))
	if err := manager.Register(blockMonitor); err != nil {
		return nil, fmt.Errorf("register monitor: %w", err)
	}

	refresher := pricefeedsvc.NewRefresher(stores.PriceFeeds, cfg.PriceFeed.SourceURL, cfg.PriceFeed.RefreshInterval, log.WithField("component", "pricefeed"))
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register refresher: %w", err)
	}

	scheduler := jobs.New(predictionService, leaderboardService, notificationService, log.WithField("component", "jobs"))
	if err := manager.Register(scheduler); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	return app, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// escrowSigner defers key unsealing until a payout is actually signed.
type escrowSigner struct {
	custodian *custodian.Service
	account   string
}

func (e *escrowSigner) Sign(digest []byte) (string, error) {
	signer, err := e.custodian.SignerFor(context.Background(), e.account, custodian.RoleActive)
	if err != nil {
		return "", err
	}
	return signer.Sign(digest)
}

func (e *escrowSigner) PublicKey() string {
	signer, err := e.custodian.SignerFor(context.Background(), e.account, custodian.RoleActive)
	if err != nil {
		return ""
	}
	return signer.PublicKey()
}

type postingSigners struct {
	custodian *custodian.Service
}

func (p *postingSigners) PostingSigner(ctx context.Context, hiveAccount string) (chain.Signer, error) {
	return p.custodian.SignerFor(ctx, hiveAccount, custodian.RolePosting)
}
