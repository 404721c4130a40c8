package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/pachygram/activitypub"
	"github.com/deemkeen/pachygram/cache"
	"github.com/deemkeen/pachygram/db"
	"github.com/deemkeen/pachygram/feed"
	"github.com/deemkeen/pachygram/pager"
	"github.com/deemkeen/pachygram/util"
	"github.com/deemkeen/pachygram/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Connect(conf)
	if err != nil {
		log.Fatalln(err)
	}

	redisCache := cache.New(conf.Conf.RedisAddr)

	resolver := activitypub.NewResolver(database, conf)
	deliverer := activitypub.NewDeliverer(conf)
	service := activitypub.NewService(database, resolver, deliverer, redisCache, conf)
	aggregator := feed.NewAggregator(database, resolver, redisCache, conf)
	pgr := pager.NewPager(database, resolver, redisCache, conf)

	server := web.NewServer(conf, database, redisCache, service, aggregator, pgr, resolver)

	startServing(server, database, conf)
}

func startServing(server *web.Server, database *db.DB, conf *util.AppConfig) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalln(err)
	}
	if err := database.Close(ctx); err != nil {
		log.Printf("Warning: failed to close database cleanly: %v", err)
	}
}
