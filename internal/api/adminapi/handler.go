// Package adminapi is the HTTP surface of the admin/auth service. It is
// decoupled from the inference gateway: accounts and jobs only.
package adminapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/api"
	"github.com/infrapilot/infrapilot/internal/api/middleware"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/service"
)

// Handler handles admin service requests
type Handler struct {
	auth  *service.AuthService
	admin *service.AdminService
	jobs  *service.JobService
}

// NewHandler creates a new admin service handler
func NewHandler(auth *service.AuthService, admin *service.AdminService, jobs *service.JobService) *Handler {
	return &Handler{auth: auth, admin: admin, jobs: jobs}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RegisterCustomer creates a customer account.
func (h *Handler) RegisterCustomer(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	customer, err := h.auth.RegisterCustomer(req.Email, req.Username, req.FullName, req.Password)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

// LoginCustomer issues a customer token pair.
func (h *Handler) LoginCustomer(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	tokens, err := h.auth.LoginCustomer(req.Email, req.Password)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// LoginAdmin issues an admin token pair.
func (h *Handler) LoginAdmin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	tokens, err := h.auth.LoginAdmin(req.Email, req.Password)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// Refresh exchanges a refresh token for a new pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	tokens, err := h.auth.Refresh(req.RefreshToken)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// Me returns the authenticated customer's profile.
func (h *Handler) Me(c *gin.Context) {
	customer, err := h.admin.GetCustomer(middleware.SubjectID(c))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// UpdateMe updates the authenticated customer's profile.
func (h *Handler) UpdateMe(c *gin.Context) {
	var update service.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	customer, err := h.admin.UpdateCustomer(middleware.SubjectID(c), update)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// Customer management (admin only)

func (h *Handler) CreateCustomer(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	customer, err := h.auth.RegisterCustomer(req.Email, req.Username, req.FullName, req.Password)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (h *Handler) ListCustomers(c *gin.Context) {
	customers, err := h.admin.ListCustomers(queryInt(c, "limit", 10), queryInt(c, "offset", 0))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *Handler) GetCustomer(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	customer, err := h.admin.GetCustomer(id)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h *Handler) UpdateCustomer(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	var update service.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	customer, err := h.admin.UpdateCustomer(id, update)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) SetCustomerActive(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if err := h.admin.SetCustomerActive(id, req.Active); err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": req.Active})
}

func (h *Handler) DeleteCustomer(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if err := h.admin.DeleteCustomer(id); err != nil {
		api.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Admin user management (admin only)

func (h *Handler) CreateAdmin(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	admin, err := h.admin.CreateAdmin(req.Email, req.Username, req.FullName, req.Password)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, admin)
}

func (h *Handler) ListAdmins(c *gin.Context) {
	admins, err := h.admin.ListAdmins()
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admins": admins})
}

func (h *Handler) GetAdmin(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	admin, err := h.admin.GetAdmin(id)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, admin)
}

func (h *Handler) UpdateAdmin(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	var update service.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	admin, err := h.admin.UpdateAdmin(id, update)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, admin)
}

func (h *Handler) SetAdminActive(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if err := h.admin.SetAdminActive(id, middleware.SubjectID(c), req.Active); err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": req.Active})
}

func (h *Handler) DeleteAdmin(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if err := h.admin.DeleteAdmin(id, middleware.SubjectID(c)); err != nil {
		api.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Jobs

type createJobRequest struct {
	Name    string                 `json:"name"`
	Command string                 `json:"command"`
	Config  map[string]interface{} `json:"config"`
}

func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	job, err := h.jobs.Create(middleware.SubjectID(c), req.Name, domain.JobCommand(req.Command), req.Config)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) ListMyJobs(c *gin.Context) {
	jobs, err := h.jobs.ListForCustomer(middleware.SubjectID(c), queryInt(c, "limit", 10), queryInt(c, "offset", 0))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) GetMyJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	job, err := h.jobs.Get(id, middleware.SubjectID(c))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) ListAllJobs(c *gin.Context) {
	jobs, err := h.jobs.ListAll(queryInt(c, "limit", 10), queryInt(c, "offset", 0))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) CancelJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	job, err := h.jobs.Cancel(id)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) DeleteJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if err := h.jobs.Delete(id); err != nil {
		api.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id must be an integer", domain.ErrValidation)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
