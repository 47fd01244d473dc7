package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/logging"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/EdwinCycling/MaaltijdPlus/configs/config"
	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/auth"
	"github.com/EdwinCycling/MaaltijdPlus/internal/data/firestoredb"
	"github.com/EdwinCycling/MaaltijdPlus/internal/limiter"
	"github.com/EdwinCycling/MaaltijdPlus/internal/live"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/server"
	"github.com/EdwinCycling/MaaltijdPlus/internal/server/router"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/internal/vision"
	"github.com/EdwinCycling/MaaltijdPlus/pkg/gopool"
	"github.com/EdwinCycling/MaaltijdPlus/pkg/photostore"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
)

func main() {
	var (
		debug   = flag.Bool("debug", false, "debug mode")
		vers    = flag.Bool("version", false, "prints version")
		workers = flag.Int("workers", 0, "max workers count")
		queue   = flag.Int("queue", 0, "workers task queue size")
		cfgfn   = flag.String("config", "configs/config.yaml", "--config=<file_name> configuration file name. Default is configs/config.yaml")
		grant   = flag.String("grant", "", "--grant=<email> adds the address to the whitelist collection and exits")
	)

	flag.Parse()
	ctx := context.Background()

	// Request to print out the build version
	if *vers {
		tools.PrintVersion()
		os.Exit(0)
	}

	// Check debug mode request
	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		*cfgfn = "../../configs/config_debug.yaml"
	}

	var (
		ml               *log.Logger = log.New(os.Stderr, "[main] ", log.LstdFlags)
		algr                         = logrus.New()
		pool_max_workers int
		pool_queue       int
	)

	// Load the configuration file
	cfg, err := config.LoadConfig(*cfgfn)
	if err != nil {
		ml.Printf("Error loading configuration file %s \nExit, unable to proceed", *cfgfn)
		panic(err)
	}

	// Initialize the go-routine pool used for the live feed connections
	// and the analysis workers. The pool's parameters workers and queue
	// size can be set either in the configuration file or as runtime
	// flags. The priority is from the most flexible to the most rigid
	// method: ENV_VAR (config file) > runtime flag > default value
	if cfg.PoolMaxWorkers >= 1 {
		pool_max_workers = cfg.PoolMaxWorkers
	} else {
		if *workers < 1 {
			pool_max_workers = 128
		} else {
			pool_max_workers = *workers
		}
		cfg.PoolMaxWorkers = pool_max_workers
	}

	if cfg.PoolQueue >= 1 {
		pool_queue = cfg.PoolQueue
	} else {
		if *queue < 1 {
			pool_queue = 1
		} else {
			pool_queue = *queue
		}
		cfg.PoolQueue = pool_queue
	}

	prj := cfg.GetProjectID()
	if prj == "" {
		ml.Printf("Firestore project id %v is empty. Exit: unable to proceed.", prj)
		panic(nil)
	}
	clientFrst, err := firestore.NewClient(ctx, prj)
	if err != nil {
		ml.Printf("firestore client init error %s.\n Exit: unable to proceed.", err.Error())
		panic(err)
	}
	defer clientFrst.Close()

	// Initialize the firestore repositories
	mealRepo, err := firestoredb.NewMealRepository(clientFrst, cfg.GetDLV(), cfg.GetMealsCollectionName())
	if err != nil {
		ml.Printf("firestore repository init error %s.\n Exit: unable to proceed.", err.Error())
		panic(err)
	}
	listRepo, err := firestoredb.NewListRepository(clientFrst, cfg.GetWhiteListCollectionName())
	if err != nil {
		ml.Printf("firestore repository init error %s.\n Exit: unable to proceed.", err.Error())
		panic(err)
	}

	// Maintenance path: whitelist an address and exit
	if *grant != "" {
		e := maaltijd.WhitelistEntry{Email: *grant, Note: "granted via command line", CreatedAt: time.Now().Unix()}
		if err := listRepo.StoreEntry(ctx, &e); err != nil {
			ml.Printf("unable to whitelist %s: %v", *grant, err)
			os.Exit(1)
		}
		ml.Printf("whitelisted %s", e.Email)
		os.Exit(0)
	}

	strategies := access.RepoStrategies("whitelist", listRepo)
	if fbc := cfg.GetWhiteListFallbackCollection(); fbc != "" {
		fbRepo, err := firestoredb.NewListRepository(clientFrst, fbc)
		if err != nil {
			ml.Printf("firestore repository init error %s.\n Exit: unable to proceed.", err.Error())
			panic(err)
		}
		strategies = append(strategies, access.RepoStrategies("fallback", fbRepo)...)
	}

	// Initialize the cloud Logging client
	var clgr *logging.Logger
	if cfg.CloudLoggingEnabled {
		clientLgr, err := logging.NewClient(ctx, prj)
		if err != nil {
			ml.Printf("Error while initializing cloud logging. The service will be now disabled!")
			cfg.CloudLoggingEnabled = false
		} else {
			clgr = clientLgr.Logger("maaltijdplus-app")
			defer clientLgr.Close()
		}
	}

	// Rate limit counters, shared over redis when several instances run
	var httpStore, aiStore limiter.Store
	if cfg.GetRateLimitStore() == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.GetRedisAddr()})
		httpStore = limiter.NewRedisStore(rdb, "rl-http")
		aiStore = limiter.NewRedisStore(rdb, "rl-ai")
	} else {
		httpStore = limiter.NewMemoryStore(cfg.GetSweepThreshold())
		aiStore = limiter.NewMemoryStore(cfg.GetSweepThreshold())
	}
	reqMax, reqWin := cfg.GetRequestRule()
	aiMax, aiWin := cfg.GetAnalysisRule()
	httpLim := limiter.New(httpStore, reqMax, reqWin)
	aiLim := limiter.New(aiStore, aiMax, aiWin)

	phs, err := photostore.New(ctx, cfg.GetPhotoBucket())
	if err != nil {
		ml.Printf("photo store init error %s.\n Exit: unable to proceed.", err.Error())
		panic(err)
	}

	vcl, err := vision.NewClient(ctx, cfg.GetVisionAPIKey(), cfg.GetVisionModel(), cfg.GetVisionPrompt(), cfg.GetVisionCallsPerMinute(), cfg.GetVisionTimeout(), algr)
	if err != nil {
		ml.Printf("vision client init error %s.\n Exit: unable to proceed.", err.Error())
		panic(err)
	}

	// Assemble the sign-in stack: identity provider, session registry,
	// access gate, orchestrator and the session observer
	registry := services.NewRegistry(algr)

	gip, err := auth.NewGIPClient(ctx, cfg.GetIdentityAPIKey(), cfg.GetIdentityProviderID(), cfg.GetMagicLinksPerHour(), algr)
	if err != nil {
		ml.Printf("identity client init error %s.\n Exit: unable to proceed.", err.Error())
		panic(err)
	}

	audit := access.NewLog(cfg.GetAuditLogSize(), clgr)
	revoker := &auth.SessionRevoker{Registry: registry, Provider: gip, Rlgr: algr}

	allow := append([]string{}, access.DefaultAllowList...)
	allow = append(allow, cfg.GetAllowList()...)

	gate := access.New(access.NewCache(cfg.GetAccessCacheTTL()), allow, strategies, revoker, audit, algr)

	policy := auth.DefaultPolicy()
	if rules := cfg.GetSigninPolicy(); len(rules) > 0 {
		policy = auth.NewPolicyTable(rules)
	}
	orc := auth.NewOrchestrator(gip, gate, policy, cfg.GetRedirectTimeout(), cfg.GetContinueURL(), algr)

	obs := auth.NewObserver(gate, registry, algr)
	go obs.Run(ctx)

	pool := gopool.NewPool(pool_max_workers, pool_queue, 1)
	hub := live.NewHub(pool, clgr, algr)

	// Init a new HTTP server instance
	httpServer := server.NewInstance()
	hdlr := router.NewHandler(router.Deps{
		Cfg:             cfg,
		Meals:           mealRepo,
		Gate:            gate,
		Audit:           audit,
		Registry:        registry,
		Orchestrator:    orc,
		Observer:        obs,
		Hub:             hub,
		Analyzer:        vcl,
		Photos:          phs,
		HTTPLimiter:     httpLim,
		AnalysisLimiter: aiLim,
		Pool:            pool,
	})

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		ml.Printf("...starting maaltijdplus instance at %s...", addr)
		return httpServer.Start(addr, hdlr)
	})
	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-c:
			return fmt.Errorf("%s", s)
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	// unblocks ListenAndServe once the group is failing
	g.Go(func() error {
		<-gctx.Done()
		httpServer.Shutdown()
		return nil
	})

	ml.Printf("maaltijdplus http server terminated! %v", g.Wait())
	hub.Close()
	registry.Close()
}
