package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/polyglot-chat/polyglot/ai"
	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/persistence"
	"github.com/polyglot-chat/polyglot/ratelimit"
	"github.com/polyglot-chat/polyglot/types"
	"github.com/polyglot-chat/polyglot/web"
	"github.com/polyglot-chat/polyglot/ws"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()
	log.SetFlags(0)

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	persister, err := persistence.NewPersister(cfg)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	// the default room always exists
	if _, err := persister.GetOrCreateRoom(types.DefaultRoomName); err != nil {
		panic(err)
	}

	var provider ai.Provider
	if cfg.AIConfig.APIKey != "" {
		provider = ai.NewOpenAIProvider(cfg.AIConfig)
	} else {
		globals.AppLogger.Warn("no AI api key configured, language detection, moderation and translation are disabled")
	}
	pipeline := ai.NewPipeline(provider, persister, cfg.AIConfig)

	limiter := ratelimit.New(cfg.RateLimitConfig.Messages, time.Duration(cfg.RateLimitConfig.WindowSeconds)*time.Second)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", limiter.Prune); err != nil {
		panic(err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	hub := ws.NewHub(cfg, persister, pipeline, limiter)
	server := web.NewServer(cfg, persister, pipeline, hub)
	http.Handle("/", server.Router())

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}
