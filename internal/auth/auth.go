package auth

import (
	"net/http"
	"unicode"

	"glowscan_go_backend/internal/errors"
	"glowscan_go_backend/internal/models"
	"glowscan_go_backend/internal/services"
	jwtauth "glowscan_go_backend/internal/utils/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	UserIDHeader   = "X-User-ID"
	maxUserIDRunes = 128
	contextUserKey = "user"
)

// IdentityMiddleware resolves the caller from X-User-ID and, when jwtSecret is set and a
// bearer token is sent, checks that the token belongs to the same user. The user is
// created on first sight and stored in the gin context under "user".
func IdentityMiddleware(users services.UserStore, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		authHeader := c.GetHeader("Authorization")

		// Browsers cannot set headers on a websocket handshake.
		if websocket.IsWebSocketUpgrade(c.Request) {
			if userID == "" {
				userID = c.Query("user_id")
			}
			if authHeader == "" && c.Query("token") != "" {
				authHeader = "Bearer " + c.Query("token")
			}
		}

		if !validUserID(userID) {
			errors.HandleError(c, errors.New400Error("X-User-ID header is required (1-128 printable characters)"))
			return
		}

		authenticated := false
		if jwtSecret != "" && authHeader != "" {
			token, ok := jwtauth.BearerToken(authHeader)
			if !ok {
				errors.HandleError(c, errors.New401Error())
				return
			}
			sub, err := jwtauth.VerifyToken(token, jwtSecret)
			if err != nil || sub != userID {
				zerolog.Ctx(c.Request.Context()).Debug().Err(err).Str("user_id", userID).Msg("Bearer token rejected")
				errors.HandleError(c, errors.New401Error())
				return
			}
			authenticated = true
		}

		user, err := users.GetOrCreateUser(c.Request.Context(), userID, authenticated)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		if !user.Active {
			errors.HandleError(c, errors.New401Error())
			return
		}

		logger := zerolog.Ctx(c.Request.Context()).With().Str("user_id", userID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Set(contextUserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user IdentityMiddleware stored on the context.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(contextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

func validUserID(userID string) bool {
	if userID == "" {
		return false
	}
	count := 0
	for _, r := range userID {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return false
		}
		count++
	}
	return count <= maxUserIDRunes
}

func getUser(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		errors.HandleError(c, errors.New401Error())
		return
	}
	c.JSON(http.StatusOK, user)
}

func SetupRoutes(r *gin.Engine, users services.UserStore, jwtSecret string) {
	r.GET("/me", IdentityMiddleware(users, jwtSecret), getUser)
}
