package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/bkimport/internal/middleware"
)

type RouterDeps struct {
	Imports         *ImportHandler
	JWTSecret       []byte
	UploadRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/imports", deps.Imports.Create)
	authGroup.POST("/imports/upload", middleware.RateLimit(deps.UploadRateLimit), deps.Imports.Upload)
	authGroup.GET("/imports", deps.Imports.List)
	authGroup.GET("/imports/:id", deps.Imports.Get)
	authGroup.POST("/imports/:id/entries", deps.Imports.AddEntries)
	authGroup.GET("/imports/:id/entries", deps.Imports.ListEntries)
	authGroup.POST("/imports/:id/finalize", deps.Imports.Finalize)
	authGroup.POST("/imports/:id/start", deps.Imports.Start)
	authGroup.POST("/imports/:id/pause", deps.Imports.Pause)
	authGroup.POST("/imports/:id/resume", deps.Imports.Resume)
	authGroup.POST("/imports/:id/fail", deps.Imports.Fail)
}
