package http

import (
	"github.com/gin-gonic/gin"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/core"
	"github.com/sirupsen/logrus"
)

func SetupRoutes(router *gin.Engine, handlers *Handlers, repo core.Repository, logger *logrus.Logger) {
	// Global middleware
	router.Use(Logger(logger))
	router.Use(ErrorHandler())
	router.Use(CORS())

	// Liveness check (public)
	router.GET("/health", handlers.Health)

	// All API routes require a company-scoped bearer credential.
	api := router.Group("/api/v1")
	api.Use(CompanyAuth(repo))
	{
		device := api.Group("/device")
		{
			device.POST("/register", handlers.DeviceRegister)
			device.POST("/sync", handlers.DeviceSync)
			device.GET("/loop", handlers.DeviceLoop)
		}

		health := api.Group("/health")
		{
			health.POST("/report", handlers.HealthReport)
			health.GET("/status", handlers.HealthStatus)
			health.GET("/list", handlers.HealthList)
		}

		install := api.Group("/install")
		{
			install.POST("/progress", handlers.InstallProgress)
			install.GET("/status", handlers.InstallStatus)
			install.GET("/list", handlers.InstallList)
		}

		groups := api.Group("/groups")
		{
			groups.GET("/:id/timeblocks", handlers.ListTimeBlocks)
			groups.POST("/:id/timeblocks", handlers.CreateTimeBlock)
			groups.GET("/:id/schedule", handlers.GroupSchedule)
		}

		blocks := api.Group("/timeblocks")
		{
			blocks.PUT("/:id", handlers.UpdateTimeBlock)
			blocks.DELETE("/:id", handlers.DeleteTimeBlock)
		}

		admin := api.Group("/admin")
		admin.Use(RequireAdmin())
		{
			admin.GET("/migrations", handlers.ListMigrations)
		}
	}
}
