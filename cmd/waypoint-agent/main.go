package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"uk.co.dudmesh.waypoint/internal/boot"
	"uk.co.dudmesh.waypoint/internal/cache"
	"uk.co.dudmesh.waypoint/internal/dispatch"
	"uk.co.dudmesh.waypoint/internal/gateway"
	"uk.co.dudmesh.waypoint/internal/handlers"
	"uk.co.dudmesh.waypoint/internal/refresh"
	"uk.co.dudmesh.waypoint/internal/store"
)

func main() {
	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	datastore, err := store.New(bootConfig.SelfID, &bootConfig)
	if err != nil {
		log.Fatalf("opening store: %+v", err)
	}
	defer datastore.Close()

	client, err := gateway.New(&bootConfig)
	if err != nil {
		log.Fatalf("creating gateway client: %+v", err)
	}
	if err := client.Auth(bootConfig.SelfID, bootConfig.SelfName, bootConfig.AuthToken); err != nil {
		log.Fatalf("authenticating: %+v", err)
	}

	queue := dispatch.NewQueue()
	defer queue.Close()

	entityCache, err := cache.New(cache.Config{
		SelfID:       bootConfig.SelfID,
		SelfName:     bootConfig.SelfName,
		NearRadiusKm: bootConfig.NearRadiusKm,
		Store:        datastore,
		Client:       client,
		Queue:        queue,
	})
	if err != nil {
		log.Fatalf("creating cache: %+v", err)
	}

	if err := entityCache.InitFromStore(); err != nil {
		log.Fatalf("loading cache from store: %+v", err)
	}
	if err := entityCache.UpdateFromNetwork(); err != nil {
		log.Errorf("initial resync: %+v", err)
	}

	positionInterval, err := time.ParseDuration(bootConfig.Refresh.PositionInterval)
	if err != nil {
		log.Fatalf("parsing position interval: %+v", err)
	}
	fullInterval, err := time.ParseDuration(bootConfig.Refresh.FullInterval)
	if err != nil {
		log.Fatalf("parsing full interval: %+v", err)
	}

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	refresher := refresh.New(entityCache, client, positionInterval, fullInterval)
	go refresher.Run(refreshCtx)

	server := echo.New()
	server.Use(middleware.BodyLimit("10M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("waypoint"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)
	if bootConfig.IsDevelopment() {
		server.Logger.SetLevel(log.DEBUG)
	}

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     bootConfig.Server.Origins,
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	server.GET("/self", handlers.GetSelf(entityCache))
	server.POST("/self/position", handlers.UpdatePosition(entityCache))
	server.GET("/users", handlers.ListUsers(entityCache))
	server.GET("/users/:id", handlers.GetUser(entityCache))
	server.POST("/users/:id/refresh", handlers.RefreshUser(entityCache))
	server.POST("/users/:id/invite", handlers.InviteUser(entityCache))
	server.POST("/users/:id/block", handlers.SetBlockedStatus(entityCache, true))
	server.POST("/users/:id/unblock", handlers.SetBlockedStatus(entityCache, false))
	server.POST("/users/search", handlers.FindUsers(entityCache))
	server.GET("/friends", handlers.ListFriends(entityCache))
	server.POST("/friends/remove", handlers.RemoveFriends(entityCache))

	server.GET("/events", handlers.ListEvents(entityCache))
	server.GET("/events/:id", handlers.GetEvent(entityCache))
	server.POST("/events", handlers.CreateEvent(entityCache))
	server.PUT("/events/:id", handlers.UpdateEvent(entityCache))
	server.POST("/events/:id/join", handlers.SetParticipation(entityCache, true))
	server.POST("/events/:id/leave", handlers.SetParticipation(entityCache, false))
	server.POST("/events/:id/invite", handlers.InviteToEvent(entityCache))

	server.GET("/filters", handlers.ListFilters(entityCache))
	server.POST("/filters", handlers.CreateFilter(entityCache))
	server.PUT("/filters/:id", handlers.UpdateFilter(entityCache))
	server.DELETE("/filters/:id", handlers.DeleteFilter(entityCache))

	server.POST("/refresh", handlers.SetRefreshEnabled(refresher))

	server.GET("/invitations", handlers.ListInvitations(entityCache))
	server.POST("/invitations/read", handlers.ReadAllInvitations(entityCache))
	server.POST("/invitations/:id/accept", handlers.AnswerInvitation(entityCache, true))
	server.POST("/invitations/:id/decline", handlers.AnswerInvitation(entityCache, false))

	go func() {
		metrics := echo.New()
		metrics.GET("/metrics", echoprometheus.NewHandler())
		if err := metrics.Start(fmt.Sprintf(":%d", bootConfig.Server.MetricsPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", bootConfig.Server.Port)); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	stopRefresh()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
}
