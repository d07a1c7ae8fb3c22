package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/collateralvault/internal/auth"
	"github.com/terminal-bench/collateralvault/internal/custody"
	"github.com/terminal-bench/collateralvault/internal/records"
	"github.com/terminal-bench/collateralvault/internal/store"
	"github.com/terminal-bench/collateralvault/internal/vault"
	"github.com/terminal-bench/collateralvault/pkg/amount"
	"github.com/terminal-bench/collateralvault/pkg/lock"
	"github.com/terminal-bench/collateralvault/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8010"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")
	custodyURL := os.Getenv("CUSTODY_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	registryCap := vault.DefaultRegistryCap
	if v := os.Getenv("REGISTRY_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid REGISTRY_CAP: %v", err)
		}
		registryCap = n
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	vaultStore := store.NewRedisStore(rdb, registryCap)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	archive := store.NewRecordArchive(db)
	if err := archive.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to prepare archive schema: %v", err)
	}

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            natsURL,
		Name:           "vault-service",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	// Per-vault mutual exclusion. With etcd endpoints configured the
	// locks hold across service instances.
	var locks vault.Locker = lock.NewKeyedMutex()
	if endpoints := os.Getenv("ETCD_ENDPOINTS"); endpoints != "" {
		etcdLocks, err := lock.NewEtcdLocker(lock.EtcdConfig{
			Endpoints: strings.Split(endpoints, ","),
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdLocks.Close()
		locks = etcdLocks
	}

	registry, err := vaultStore.LoadRegistry(context.Background())
	if err != nil {
		log.Fatalf("Failed to load authority registry: %v", err)
	}

	engine := vault.NewEngine(vault.Config{
		Store:         vaultStore,
		Registry:      registry,
		RegistryStore: vaultStore,
		Custody:       custody.NewClient(custody.Config{BaseURL: custodyURL}),
		Records:       records.NewMultiSink(records.NewNATSSink(natsClient), archive),
		Locks:         locks,
	})

	authSvc := auth.NewService(jwtSecret, 0)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/vaults", authMiddleware(authSvc), func(c *gin.Context) {
			var req struct {
				CustodyAccount uuid.UUID `json:"custody_account" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			owner := callerID(c)
			v, err := engine.Initialize(c.Request.Context(), owner, req.CustodyAccount)
			if err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, vaultResponse(v))
		})

		v1.GET("/vaults/:owner", authMiddleware(authSvc), func(c *gin.Context) {
			owner, err := uuid.Parse(c.Param("owner"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
				return
			}
			v, err := engine.Get(c.Request.Context(), vault.DeriveVaultID(owner))
			if err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, vaultResponse(v))
		})

		v1.POST("/vaults/:owner/deposit", authMiddleware(authSvc), func(c *gin.Context) {
			owner, err := uuid.Parse(c.Param("owner"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
				return
			}
			if callerID(c) != owner {
				c.JSON(http.StatusForbidden, gin.H{"error": "only the owner may deposit"})
				return
			}

			var req struct {
				FundingAccount uuid.UUID `json:"funding_account" binding:"required"`
				Amount         string    `json:"amount" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			units, err := amount.Parse(req.Amount)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			v, err := engine.Deposit(c.Request.Context(), owner, req.FundingAccount, units)
			if err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, vaultResponse(v))
		})

		v1.POST("/vaults/:owner/withdraw", authMiddleware(authSvc), func(c *gin.Context) {
			owner, err := uuid.Parse(c.Param("owner"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
				return
			}

			var req struct {
				DestinationAccount uuid.UUID `json:"destination_account" binding:"required"`
				Amount             string    `json:"amount" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			units, err := amount.Parse(req.Amount)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			v, err := engine.Withdraw(c.Request.Context(), callerID(c), owner, req.DestinationAccount, units)
			if err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, vaultResponse(v))
		})

		v1.POST("/vaults/:owner/lock", authMiddleware(authSvc), requireRole(auth.RoleProgram), lockHandler(engine.Lock))
		v1.POST("/vaults/:owner/unlock", authMiddleware(authSvc), requireRole(auth.RoleProgram), lockHandler(engine.Unlock))

		v1.GET("/vaults/:owner/transactions", authMiddleware(authSvc), func(c *gin.Context) {
			owner, err := uuid.Parse(c.Param("owner"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
				return
			}
			limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
			if err != nil || limit <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}

			txns, err := archive.List(c.Request.Context(), vault.DeriveVaultID(owner), limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"transactions": txns})
		})

		v1.GET("/authority/callers", authMiddleware(authSvc), requireRole(auth.RoleAdmin), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"callers": engine.Registry().Callers()})
		})

		v1.POST("/authority/callers", authMiddleware(authSvc), requireRole(auth.RoleAdmin), func(c *gin.Context) {
			var req struct {
				CallerID uuid.UUID `json:"caller_id" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := engine.Authorize(c.Request.Context(), req.CallerID); err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"callers": engine.Registry().Callers()})
		})

		v1.DELETE("/authority/callers/:id", authMiddleware(authSvc), requireRole(auth.RoleAdmin), func(c *gin.Context) {
			caller, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid caller id"})
				return
			}
			if err := engine.Revoke(c.Request.Context(), caller); err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"callers": engine.Registry().Callers()})
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	natsClient.Close()
	rdb.Close()
	db.Close()
}

type lockOp func(ctx context.Context, caller, vaultID uuid.UUID, units uint64) (*vault.Vault, error)

// lockHandler serves lock and unlock; both take the target vault owner
// in the path and an amount in the body, with the caller taken from the
// verified token.
func lockHandler(op lockOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := uuid.Parse(c.Param("owner"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
			return
		}

		var req struct {
			Amount string `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		units, err := amount.Parse(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		v, err := op(c.Request.Context(), callerID(c), vault.DeriveVaultID(owner), units)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, vaultResponse(v))
	}
}

func authMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := svc.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("caller_id", claims.CallerID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

func callerID(c *gin.Context) uuid.UUID {
	id, _ := c.Get("caller_id")
	caller, _ := id.(uuid.UUID)
	return caller
}

func vaultResponse(v *vault.Vault) gin.H {
	return gin.H{
		"vault_id":          v.ID(),
		"owner":             v.Owner,
		"custody_account":   v.CustodyAccount,
		"total_balance":     amount.Format(v.TotalBalance),
		"locked_balance":    amount.Format(v.LockedBalance),
		"available_balance": amount.Format(v.AvailableBalance),
		"total_deposited":   amount.Format(v.TotalDeposited),
		"total_withdrawn":   amount.Format(v.TotalWithdrawn),
		"created_at":        v.CreatedAt,
	}
}

func statusFor(err error) int {
	var transport *custody.TransportError
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrUnauthorized),
		errors.Is(err, vault.ErrUnauthorizedProgram):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrAlreadyInitialized),
		errors.Is(err, vault.ErrRegistryFull):
		return http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientFunds),
		errors.Is(err, vault.ErrMath),
		errors.Is(err, vault.ErrOverflow),
		errors.Is(err, vault.ErrUnderflow):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
