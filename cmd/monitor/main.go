package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/collateralvault/internal/alerts"
	"github.com/terminal-bench/collateralvault/internal/custody"
	"github.com/terminal-bench/collateralvault/internal/metrics"
	"github.com/terminal-bench/collateralvault/internal/reconcile"
	"github.com/terminal-bench/collateralvault/internal/records"
	"github.com/terminal-bench/collateralvault/internal/store"
	"github.com/terminal-bench/collateralvault/internal/vault"
	"github.com/terminal-bench/collateralvault/pkg/messaging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8011"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}
	natsURL := os.Getenv("NATS_URL")
	custodyURL := os.Getenv("CUSTODY_URL")

	interval := 30 * time.Second
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid RECONCILE_INTERVAL: %v", err)
		}
		interval = d
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	vaultStore := store.NewRedisStore(rdb, 0)

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            natsURL,
		Name:           "vault-monitor",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	hub := alerts.NewHub()
	alertSink := alerts.NewMulti(records.NewNATSAlertSink(natsClient), hub)

	var metricsWriter reconcile.MetricsWriter
	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		influx := metrics.NewInfluxWriter(metrics.Config{
			URL:    influxURL,
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    os.Getenv("INFLUX_ORG"),
			Bucket: os.Getenv("INFLUX_BUCKET"),
		})
		defer influx.Close()
		metricsWriter = influx
	}

	monitor := reconcile.NewMonitor(reconcile.MonitorConfig{
		Store:      vaultStore,
		Reconciler: reconcile.NewReconciler(custody.NewClient(custody.Config{BaseURL: custodyURL})),
		Alerts:     alertSink,
		Metrics:    metricsWriter,
		Interval:   interval,
	})

	// Seed the watched set from WATCH_OWNERS (comma-separated owner
	// IDs); the API can add more at runtime.
	for _, raw := range strings.Split(os.Getenv("WATCH_OWNERS"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		owner, err := uuid.Parse(raw)
		if err != nil {
			log.Fatalf("invalid WATCH_OWNERS entry %q: %v", raw, err)
		}
		monitor.Watch(vault.DeriveVaultID(owner))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("monitor stopped: %v", err)
		}
	}()

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"watched":     len(monitor.Watched()),
			"subscribers": hub.Clients(),
		})
	})

	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/watch", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"vaults": monitor.Watched()})
		})

		v1.POST("/watch", func(c *gin.Context) {
			var req struct {
				Owner uuid.UUID `json:"owner" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			monitor.Watch(vault.DeriveVaultID(req.Owner))
			c.JSON(http.StatusOK, gin.H{"vaults": monitor.Watched()})
		})

		v1.DELETE("/watch/:owner", func(c *gin.Context) {
			owner, err := uuid.Parse(c.Param("owner"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
				return
			}
			monitor.Unwatch(vault.DeriveVaultID(owner))
			c.JSON(http.StatusOK, gin.H{"vaults": monitor.Watched()})
		})
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	natsClient.Close()
	rdb.Close()
}
