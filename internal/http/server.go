package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"carelink/internal/core"
	"carelink/pkg"
)

// SessionCookie carries the session token for browser clients.  API clients
// may send the same token as a bearer token instead.
const SessionCookie = "carelink_session"

// Subscriber delivers a signal each time a patient's snapshot is rewritten.
type Subscriber interface {
	Subscribe(patientUID string) (<-chan struct{}, func())
}

// Services are the core collaborators behind the HTTP surface.
type Services struct {
	Accounts *core.AccountService
	Access   *core.AccessGateway
	Linkage  *core.LinkageResolver
	Chat     *core.ChatService
	Threads  *core.ThreadService
	Analysis *core.Synthesizer
	// Updates is optional; without it the analysis stream is not served.
	Updates Subscriber
}

// Server bundles together the dependencies required by HTTP handlers.
type Server struct {
	Services
	Log          zerolog.Logger
	SessionTTL   time.Duration
	SecureCookie bool
	Heartbeat    time.Duration
}

// NewServer constructs a Server.
func NewServer(svc Services, logger zerolog.Logger, sessionTTL time.Duration, secureCookie bool) *Server {
	return &Server{
		Services:     svc,
		Log:          logger.With().Str("component", "http").Logger(),
		SessionTTL:   sessionTTL,
		SecureCookie: secureCookie,
		Heartbeat:    30 * time.Second,
	}
}

// Echo returns an echo instance with the global middleware and every route
// registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(Recovery(s.Log))
	e.Use(RequestID())
	e.Use(Logger(s.Log))
	e.Use(Authenticate(s.Accounts))
	s.RegisterRoutes(e)
	return e
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")
	api.POST("/patients/signup", s.signupPatient)
	api.POST("/doctors/signup", s.signupDoctor)
	api.POST("/patients/login", s.login(pkg.RolePatient))
	api.POST("/doctors/login", s.login(pkg.RoleDoctor))
	api.POST("/logout", s.logout)

	patientOnly := s.requireRole(pkg.RolePatient)
	api.POST("/chat", s.postChat, patientOnly)
	api.GET("/chat/history", s.chatHistory, patientOnly)
	api.POST("/messages", s.sendToDoctor, patientOnly)
	api.GET("/messages", s.ownThread, patientOnly)

	doctor := api.Group("/doctor", s.requireRole(pkg.RoleDoctor))
	doctor.GET("/patients", s.listPatients)

	linked := doctor.Group("/patients/:uid", s.requireLinked)
	linked.GET("/history", s.patientHistory)
	linked.POST("/analysis", s.analyze)
	linked.GET("/analysis", s.latestAnalysis)
	linked.POST("/messages", s.sendToPatient)
	linked.GET("/messages", s.patientThread)
	if s.Updates != nil {
		linked.GET("/analysis/stream", s.streamAnalysis)
	}
}
