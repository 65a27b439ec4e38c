package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/sopworks/sop-api/internal/middleware"
)

func actorFromContext(c *gin.Context) string {
	value, exists := c.Get(middleware.ContextActorKey)
	if !exists {
		return "anonymous"
	}
	actor, ok := value.(string)
	if !ok || actor == "" {
		return "anonymous"
	}
	return actor
}
