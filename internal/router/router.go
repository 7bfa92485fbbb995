package router

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"chatbot/internal/auth"
	"chatbot/internal/config"
	"chatbot/internal/errors"
	"chatbot/internal/handler"
	"chatbot/internal/ratelimit"
)

// Access says whether a route needs an authenticated caller.
type Access int

const (
	// RequiresIdentity is the default for any route not listed as Public.
	RequiresIdentity Access = iota
	Public
)

// Route is one entry of the route table.
type Route struct {
	Method  string
	Path    string
	Access  Access
	Handler echo.HandlerFunc
	// Middleware runs after authorization.
	Middleware []echo.MiddlewareFunc
}

// Deps bundles what Register needs to build the route table.
type Deps struct {
	Config        *config.Config
	Log           *zap.Logger
	Verifier      auth.Verifier
	Limiter       *ratelimit.Limiter
	Gatherer      prometheus.Gatherer
	AuthHandler   *handler.AuthHandler
	ChatHandler   *handler.ChatHandler
	HealthHandler *handler.HealthHandler
}

// Routes returns the full route table.
func Routes(d Deps) []Route {
	perUser := ratelimit.Middleware(d.Limiter, func(c echo.Context) string {
		if id, ok := auth.IdentityFrom(c); ok {
			return id.Subject
		}
		return ""
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return []Route{
		{Method: http.MethodPost, Path: "/api/auth/register", Access: Public, Handler: d.AuthHandler.Register},
		{Method: http.MethodPost, Path: "/api/auth/login", Access: Public, Handler: d.AuthHandler.Login},

		{Method: http.MethodPost, Path: "/api/chat/message", Access: RequiresIdentity, Handler: d.ChatHandler.SendMessage, Middleware: []echo.MiddlewareFunc{perUser}},
		{Method: http.MethodGet, Path: "/api/chat/history", Access: RequiresIdentity, Handler: d.ChatHandler.History},

		{Method: http.MethodGet, Path: "/", Access: Public, Handler: d.HealthHandler.Root},
		{Method: http.MethodGet, Path: "/healthz", Access: Public, Handler: d.HealthHandler.Healthz},
		{Method: http.MethodGet, Path: "/metrics", Access: Public, Handler: echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))},
		{Method: http.MethodGet, Path: "/swagger/*", Access: Public, Handler: echoSwagger.WrapHandler},
	}
}

// Register wires middleware and the route table onto e.
func Register(e *echo.Echo, d Deps) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	routes := Routes(d)

	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: d.Config.CORSAllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		MaxAge:       int((12 * time.Hour).Seconds()),
	}))
	e.Use(auth.Gateway(d.Verifier, log))
	e.Use(Authorize(routes))

	for _, r := range routes {
		e.Add(r.Method, r.Path, r.Handler, r.Middleware...)
	}
}

// Authorize rejects requests to RequiresIdentity routes that carry no
// identity. Unknown routes require identity too, so a missing table entry
// never opens a route.
func Authorize(routes []Route) echo.MiddlewareFunc {
	access := make(map[string]Access, len(routes))
	for _, r := range routes {
		access[r.Method+" "+r.Path] = r.Access
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			if a, ok := access[c.Request().Method+" "+c.Path()]; ok && a == Public {
				return next(c)
			}
			if _, ok := auth.IdentityFrom(c); ok {
				return next(c)
			}
			httpErr := errors.MapErrorToHTTP(errors.ErrUnauthorized)
			return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
		}
	}
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
