package main

import (
	"io/fs"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/wachiwi/gate-scanner/cmd/scanner/handlers"
	"github.com/wachiwi/gate-scanner/cmd/scanner/middleware"
)

type routerConfig struct {
	User          string
	Password      string
	SessionSecret string
	TemplateFS    fs.FS
	Scanner       handlers.Scanner
	History       handlers.History
	Sessions      handlers.Sessions
	Device        handlers.DeviceStatus
}

func newRouter(rc routerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})

	store := cookie.NewStore([]byte(rc.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions("scanner_session", store))

	health := &handlers.HealthHandler{Scanner: rc.Scanner, Device: rc.Device}
	router.GET("/healthz", health.Health)

	auth := &handlers.AuthHandler{User: rc.User, Password: rc.Password, TemplateFS: rc.TemplateFS}
	router.GET("/login", auth.LoginPage)
	router.POST("/login", auth.Login)
	router.GET("/logout", auth.Logout)

	page := &handlers.PageHandler{TemplateFS: rc.TemplateFS, Scanner: rc.Scanner}
	scan := &handlers.ScanHandler{Scanner: rc.Scanner, History: rc.History}
	cam := &handlers.CameraHandler{Sessions: rc.Sessions}

	authorized := router.Group("/", middleware.AuthRequired)
	authorized.GET("/", page.Index)

	api := authorized.Group("/api")
	api.POST("/scan/start", scan.Start)
	api.POST("/scan/stop", scan.Stop)
	api.POST("/scan/reset", scan.Reset)
	api.GET("/scan/state", scan.State)
	api.GET("/scan/events", scan.Events)
	api.GET("/scan/history", scan.HistoryList)
	api.GET("/camera/stream", cam.Stream)
	api.GET("/camera/snapshot", cam.Snapshot)

	return router
}
