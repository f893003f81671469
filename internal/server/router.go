package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cafecursor/cafecursor/internal/auth"
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/changefeed"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultPageSize          = 20
	maxMultipartMemory       = 8 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingCardsService     = errors.New("cards service dependency required")
	errMissingChangeFeed       = errors.New("change feed dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto canonical user ids.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// IdentityVerifier checks third-party ID tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.VerifiedIdentity, error)
}

// SessionIssuer signs session tokens for verified identities.
type SessionIssuer interface {
	IssueSessionToken(claims auth.SessionClaims) (string, int64, error)
}

// ImageUploader stores an uploaded card photo and returns its public URL.
type ImageUploader interface {
	UploadCardImage(ctx context.Context, userID string, data []byte) (string, error)
}

type Dependencies struct {
	Sessions      SessionValidator
	Users         UserResolver
	CardsService  *cards.Service
	Changes       *changefeed.Dispatcher
	Images        ImageUploader
	Identities    IdentityVerifier
	Tokens        SessionIssuer
	SessionCookie string
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins    []string
	Metrics           *HTTPMetrics
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	PageSize          int
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.CardsService == nil {
		return nil, errMissingCardsService
	}
	if deps.Changes == nil {
		return nil, errMissingChangeFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		sessions:   deps.Sessions,
		users:      deps.Users,
		cards:      deps.CardsService,
		changes:    deps.Changes,
		images:     deps.Images,
		identities: deps.Identities,
		tokens:     deps.Tokens,
		cookieName: deps.SessionCookie,
		logger:     logger,
		heartbeat:  heartbeat,
		pageSize:   pageSize,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "ok"}})
	})
	router.GET("/cards/stream", handler.handleStream)
	if deps.Identities != nil && deps.Tokens != nil {
		router.POST("/auth/google", handler.handleIdentityExchange)
	}

	public := router.Group("/")
	public.Use(handler.identifyRequest)
	public.GET("/cards", handler.handleListFeed)
	public.GET("/cards/:ref", handler.handleGetCard)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/cards", handler.handleCreateCard)
	protected.PUT("/cards/:ref", handler.handleUpdateCard)
	protected.DELETE("/cards/:ref", handler.handleDeleteCard)
	protected.POST("/cards/:ref/like", handler.handleLikeCard)
	protected.DELETE("/cards/:ref/like", handler.handleUnlikeCard)
	protected.POST("/images", handler.handleUploadImage)
	protected.GET("/notifications", handler.handleListNotifications)

	return router, nil
}

type httpHandler struct {
	sessions   SessionValidator
	users      UserResolver
	cards      *cards.Service
	changes    *changefeed.Dispatcher
	images     ImageUploader
	identities IdentityVerifier
	tokens     SessionIssuer
	cookieName string
	logger     *zap.Logger
	heartbeat  time.Duration
	pageSize   int
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
