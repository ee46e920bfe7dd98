package api

import (
	"net/http"

	"glowscan_go_backend/internal/auth"
	apierrors "glowscan_go_backend/internal/errors"
	"glowscan_go_backend/internal/models"
	"glowscan_go_backend/internal/services"

	"github.com/gin-gonic/gin"
)

func usageHandler(ledger *services.QuotaLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)

		usage, err := ledger.Usage(c.Request.Context(), user.ID)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		plan := user.PlanID
		if len(usage) > 0 {
			plan = usage[0].PlanID
		}
		c.JSON(http.StatusOK, gin.H{
			"plan":  plan,
			"day":   ledger.Today(),
			"usage": usage,
		})
	}
}

// cancelSubscriptionHandler moves the caller back to the free plan. Payment-side
// cancellation is handled by the checkout provider.
func cancelSubscriptionHandler(users services.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)

		updated, err := users.SetPlan(c.Request.Context(), user.ID, services.PlanFree)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Subscription cancelled",
			"plan":    updated.PlanID,
		})
	}
}

func listConversationsHandler(conversations *services.ConversationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)

		convs, err := conversations.ListConversations(c.Request.Context(), user.ID)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}
		if convs == nil {
			convs = []models.Conversation{}
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}

func createConversationHandler(conversations *services.ConversationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)

		conv, err := conversations.CreateConversation(c.Request.Context(), user.ID)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conv)
	}
}

func listMessagesHandler(conversations *services.ConversationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)

		conv, err := conversations.GetConversation(c.Request.Context(), user.ID, c.Param("id"))
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		messages, err := conversations.ListOrdered(c.Request.Context(), conv.ID).Collect()
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}
		if messages == nil {
			messages = []models.Message{}
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation": conv,
			"messages":     messages,
		})
	}
}

// messageMediaHandler streams the upload attached to a user message. media may be nil when
// no media backend is configured.
func messageMediaHandler(conversations *services.ConversationService, media services.CloudStorageManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)

		msg, err := conversations.FindMessage(c.Request.Context(), user.ID, c.Param("id"), c.Param("mid"))
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}
		if media == nil || msg.MediaRef == "" {
			apierrors.HandleError(c, apierrors.New404Error("message has no stored media"))
			return
		}

		data, err := media.DownloadFile(c.Request.Context(), msg.MediaRef)
		if err != nil {
			apierrors.HandleError(c, err)
			return
		}

		contentType := http.DetectContentType(data)
		c.Header("Cache-Control", "private, max-age=3600")
		c.Data(http.StatusOK, contentType, data)
	}
}
