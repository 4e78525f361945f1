package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/core"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const companyContextKey = "company"

// Logger middleware.
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.WithFields(logrus.Fields{
			"status":    statusCode,
			"latency":   latency,
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
		}).Info("Request processed")
	}
}

// CompanyAuth resolves the bearer credential to a company. Dedicated
// API tokens are tried first, then the company license key itself as a
// fallback for older device images.
func CompanyAuth(repo core.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authorization required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid authorization format"})
			c.Abort()
			return
		}

		company, err := resolveCaller(c.Request.Context(), repo, parts[1])
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, core.ErrCompanyInactive) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"success": false, "message": "invalid credentials"})
			c.Abort()
			return
		}

		c.Set(companyContextKey, company)
		c.Next()
	}
}

func resolveCaller(ctx context.Context, repo core.Repository, credential string) (*core.Company, error) {
	token, err := repo.GetAPIToken(ctx, credential)
	if err == nil {
		if !token.Active {
			return nil, core.ErrUnauthorized
		}
		if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
			return nil, core.ErrUnauthorized
		}
		if !token.Company.Active {
			return nil, core.ErrCompanyInactive
		}

		go repo.UpdateAPITokenLastUsed(context.Background(), token.Token)

		company := token.Company
		return &company, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	company, err := repo.GetCompanyByLicenseKey(ctx, credential)
	if err != nil {
		return nil, core.ErrUnauthorized
	}
	if !company.Active {
		return nil, core.ErrCompanyInactive
	}
	return company, nil
}

// RequireAdmin restricts an endpoint to admin-scoped credentials.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		company := CallerCompany(c)
		if company == nil || !company.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "admin credentials required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerCompany returns the authenticated company, or nil outside the
// auth chain.
func CallerCompany(c *gin.Context) *core.Company {
	val, exists := c.Get(companyContextKey)
	if !exists {
		return nil
	}
	company, ok := val.(*core.Company)
	if !ok {
		return nil
	}
	return company
}

// ErrorHandler middleware.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			c.JSON(c.Writer.Status(), gin.H{
				"error": err.Error(),
			})
		}
	}
}

// CORS middleware.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
