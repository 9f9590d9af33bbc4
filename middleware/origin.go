package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type CorsOptions struct {
	AllowOrigin      string
	AllowMethods     []string
	AllowCredentials bool
}

// DefaultCorsOptions 任意来源，GET/POST/PUT/DELETE
func DefaultCorsOptions() CorsOptions {
	return CorsOptions{
		AllowOrigin:      "*",
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowCredentials: true,
	}
}

// Origin 写 CORS 响应头，预检请求直接 204
func Origin(opt CorsOptions) gin.HandlerFunc {
	methods := strings.Join(opt.AllowMethods, ", ")
	return func(c *gin.Context) {
		origin := opt.AllowOrigin
		// 携带凭证时浏览器不接受 "*"，回显请求来源
		if origin == "*" && opt.AllowCredentials {
			if reqOrigin := c.GetHeader("Origin"); reqOrigin != "" {
				origin = reqOrigin
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if opt.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
