package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/api/middleware"
	"github.com/infrapilot/infrapilot/internal/service"
)

// RouterConfig carries router level settings.
type RouterConfig struct {
	AllowOrigins []string
}

// SetupRouter configures the admin service routes.
func SetupRouter(auth *service.AuthService, admin *service.AdminService, jobs *service.JobService, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.AllowOrigins))

	h := NewHandler(auth, admin, jobs)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	apiGroup := r.Group("/api")
	{
		customers := apiGroup.Group("/customers")
		{
			customers.POST("/register", h.RegisterCustomer)
			customers.POST("/login", h.LoginCustomer)
			customers.POST("/refresh", h.Refresh)

			me := customers.Group("/me", middleware.RequireAuth(auth, service.RoleCustomer))
			{
				me.GET("", h.Me)
				me.PUT("", h.UpdateMe)
			}
		}

		jobRoutes := apiGroup.Group("/jobs", middleware.RequireAuth(auth, service.RoleCustomer))
		{
			jobRoutes.POST("", h.CreateJob)
			jobRoutes.GET("", h.ListMyJobs)
			jobRoutes.GET("/:id", h.GetMyJob)
		}

		adminGroup := apiGroup.Group("/admin")
		{
			adminGroup.POST("/login", h.LoginAdmin)
			adminGroup.POST("/refresh", h.Refresh)

			authed := adminGroup.Group("", middleware.RequireAuth(auth, service.RoleAdmin))
			{
				authed.POST("/customers", h.CreateCustomer)
				authed.GET("/customers", h.ListCustomers)
				authed.GET("/customers/:id", h.GetCustomer)
				authed.PUT("/customers/:id", h.UpdateCustomer)
				authed.PUT("/customers/:id/active", h.SetCustomerActive)
				authed.DELETE("/customers/:id", h.DeleteCustomer)

				authed.POST("/users", h.CreateAdmin)
				authed.GET("/users", h.ListAdmins)
				authed.GET("/users/:id", h.GetAdmin)
				authed.PUT("/users/:id", h.UpdateAdmin)
				authed.PUT("/users/:id/active", h.SetAdminActive)
				authed.DELETE("/users/:id", h.DeleteAdmin)

				authed.GET("/jobs", h.ListAllJobs)
				authed.POST("/jobs/:id/cancel", h.CancelJob)
				authed.DELETE("/jobs/:id", h.DeleteJob)
			}
		}
	}

	return r
}
