package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xpanvictor/edmolink/internal/config"
	"github.com/xpanvictor/edmolink/internal/domains/session"
	wsctrl "github.com/xpanvictor/edmolink/internal/handlers/websocket"
	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/manager"
)

type Dependencies struct {
	Sessions *session.Manager
	Devices  *manager.Manager
	Logger   *Logger.Logger
	Configs  *config.Settings
}

func NewServerDependencies(
	sessions *session.Manager,
	devices *manager.Manager,
	logger *Logger.Logger,
	configs *config.Settings,
) Dependencies {
	return Dependencies{
		Sessions: sessions,
		Devices:  devices,
		Logger:   logger,
		Configs:  configs,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// operator UIs are served from anywhere on the LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

type deviceView struct {
	Identifier      string   `json:"identifier"`
	OscillatorCount int      `json:"oscillatorCount"`
	ArmHues         []uint16 `json:"armHues"`
	Locked          bool     `json:"locked"`
	Members         int      `json:"members"`
}

func InitializeRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/sessions", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"sessions": deps.Sessions.AvailableSessions()})
		})

		api.GET("/devices", func(c *gin.Context) {
			devices := deps.Devices.Devices()
			views := make([]deviceView, 0, len(devices))
			for _, d := range devices {
				views = append(views, deviceView{
					Identifier:      d.Identifier(),
					OscillatorCount: d.OscillatorCount(),
					ArmHues:         d.ArmHues(),
					Locked:          d.IsLocked(),
					Members:         d.Size(),
				})
			}
			c.JSON(http.StatusOK, gin.H{"devices": views})
		})
	}

	router.GET("/controller/:identifier", func(c *gin.Context) {
		handleController(c, deps)
	})
}

// handleController upgrades the peer and tries to seat it on a slot.
func handleController(c *gin.Context, deps Dependencies) {
	identifier := c.Param("identifier")
	name := c.DefaultQuery("name", "anonymous")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		deps.Logger.Warnf("upgrade failed: %v", err)
		return
	}

	ctrl := wsctrl.NewController(conn, deps.Logger)
	ctx, err := deps.Sessions.AttemptConnectionTo(identifier, name, ctrl)
	if err != nil {
		ctrl.SendError(admissionError(err))
		ctrl.Close()
		return
	}

	ctrl.Attach(ctx)
	ctrl.ReadLoop()
}

func admissionError(err error) string {
	switch {
	case errors.Is(err, session.ErrNoSuchSession):
		return "no_such_session"
	case errors.Is(err, session.ErrLockedByOtherHost):
		return "locked_by_other_host"
	case errors.Is(err, session.ErrSessionFull):
		return "session_full"
	case errors.Is(err, session.ErrSessionClosed):
		return "session_closed"
	}
	return "internal_error"
}
