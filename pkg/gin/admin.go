// Package gin exposes the store's integration API over HTTP for admin
// tooling: discounts, balance credits, server-side purchases and user
// profile lookups.
package gin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	ruststore "github.com/moscow-ovh/ruststore-go"
)

// AdminOptions is the options for the admin route group.
type AdminOptions struct {
	// AuthToken guards the admin routes when non-empty. Requests must carry
	// it in the X-Admin-Token header.
	AuthToken string

	// Timeout bounds how long a handler waits for the store callback.
	Timeout time.Duration
}

// Options is the type for the options for the admin route group.
type Options func(*AdminOptions)

// WithAuthToken is an option to require a shared admin token on every route.
func WithAuthToken(token string) Options {
	return func(options *AdminOptions) {
		options.AuthToken = token
	}
}

// WithTimeout is an option to set the per-request callback timeout.
func WithTimeout(timeout time.Duration) Options {
	return func(options *AdminOptions) {
		options.Timeout = timeout
	}
}

type discountRequest struct {
	Discount int `json:"discount" binding:"required"`
}

type balanceRequest struct {
	Sum int `json:"sum" binding:"required"`
}

type purchaseRequest struct {
	ProductID    int    `json:"productID" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required"`
	ProductName  string `json:"productName" binding:"required"`
	ProductPrice int    `json:"productPrice" binding:"required"`
}

// RegisterAdminRoutes mounts the integration API under the given router
// group. Store operations complete through callbacks; each handler waits
// for its callback up to the configured timeout and answers 504 when the
// backend never came back (dropped callbacks stay dropped).
func RegisterAdminRoutes(r gin.IRouter, store *ruststore.Store, opts ...Options) {
	options := &AdminOptions{
		Timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.AuthToken != "" {
		r.Use(func(c *gin.Context) {
			if c.GetHeader("X-Admin-Token") != options.AuthToken {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			}
		})
	}

	r.POST("/discount", func(c *gin.Context) {
		var req discountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results := make(chan string, 1)
		store.ChangeGlobalDiscount(req.Discount, func(result string) {
			results <- result
		})
		respondResult(c, results, options.Timeout)
	})

	r.POST("/products/:id/discount", func(c *gin.Context) {
		productID, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req discountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results := make(chan string, 1)
		store.ChangeProductDiscount(req.Discount, productID, func(result string) {
			results <- result
		})
		respondResult(c, results, options.Timeout)
	})

	r.POST("/users/:id/balance", func(c *gin.Context) {
		var req balanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results := make(chan string, 1)
		store.ChangeUserBalance(c.Param("id"), req.Sum, func(result string) {
			results <- result
		})
		respondResult(c, results, options.Timeout)
	})

	r.POST("/users/:id/purchase", func(c *gin.Context) {
		var req purchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results := make(chan ruststore.PurchaseResult, 1)
		store.PurchaseProduct(c.Param("id"), req.ProductID, req.Quantity,
			req.ProductName, req.ProductPrice, func(result ruststore.PurchaseResult) {
				results <- result
			})

		select {
		case result := <-results:
			status := http.StatusOK
			if !result.Success {
				status = http.StatusBadGateway
			}
			c.JSON(status, gin.H{
				"success":  result.Success,
				"message":  result.Message,
				"balance":  result.Balance,
				"paid":     result.Paid,
				"discount": result.Discount,
			})
		case <-time.After(options.Timeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "store did not respond"})
		}
	})

	r.GET("/users/:id", func(c *gin.Context) {
		type userResult struct {
			result string
			data   map[string]any
		}
		results := make(chan userResult, 1)
		store.UserData(c.Param("id"), func(result string, data map[string]any) {
			results <- userResult{result: result, data: data}
		})

		select {
		case res := <-results:
			if res.result != ruststore.ResultSuccess {
				c.JSON(http.StatusBadGateway, gin.H{"result": res.result})
				return
			}
			c.JSON(http.StatusOK, gin.H{"result": res.result, "data": res.data})
		case <-time.After(options.Timeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "store did not respond"})
		}
	})
}

func intParam(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}

func respondResult(c *gin.Context, results <-chan string, timeout time.Duration) {
	select {
	case result := <-results:
		status := http.StatusOK
		if result != ruststore.ResultSuccess {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"result": result})
	case <-time.After(timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "store did not respond"})
	}
}
