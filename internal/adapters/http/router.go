package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BrowserTokenMiddleware tags every browser with a week-long token. The
// signal controller logs it next to each endpoint id so reconnects from
// the same browser can be correlated.
func BrowserTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(signal.BrowserKey)
		if token == "" {
			token = uuid.NewString()
			c.SetCookie(signal.BrowserKey, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(signal.BrowserKey, token)
		c.Next()
	}
}

type Server struct {
	Registry *app.Registry
	Relay    *app.Relay
	Control  *app.Control
	Metrics  *metrics.Metrics
}

type profileRequest struct {
	DisplayName string `json:"displayName" binding:"required,max=36"`
}

type roomResponse struct {
	ID        domain.RoomID         `json:"id"`
	Title     string                `json:"title,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
	HostID    domain.EndpointID     `json:"hostId"`
	Locked    bool                  `json:"locked"`
	Members   []domain.Participant  `json:"members"`
	Waiting   []domain.WaitingEntry `json:"waiting"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, srv Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(BrowserTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(srv.Metrics.Handler()))

	api := r.Group("/api")

	ctrl := signal.NewSignalWSController(srv.Registry, srv.Relay, srv.Control, srv.Metrics, cfg)
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	// GET /api/rooms: live rooms, oldest first
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": srv.Registry.List()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		id, err := domain.ParseRoomID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		snap, ok := srv.Registry.Snapshot(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, roomResponse{
			ID:        snap.ID,
			Title:     snap.Title,
			CreatedAt: snap.CreatedAt,
			HostID:    snap.HostID,
			Locked:    snap.Locked,
			Members:   snap.Members,
			Waiting:   snap.Waiting,
		})
	})

	// POST /api/profile: remember a display name for later joins
	api.POST("/profile", func(c *gin.Context) {
		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "displayName is required and at most 36 characters"})
			return
		}
		s := sessions.Default(c)
		s.Set(signal.SessionNameKey, req.DisplayName)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save profile"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"displayName": req.DisplayName})
	})

	api.GET("/profile", func(c *gin.Context) {
		name, _ := sessions.Default(c).Get(signal.SessionNameKey).(string)
		c.JSON(http.StatusOK, gin.H{"displayName": name})
	})

	return r
}
