package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextActorKey is the gin context key carrying the caller identity.
const ContextActorKey = "actor_id"

// ActorHeader is set by the upstream identity gateway.
const ActorHeader = "X-Actor-Id"

const anonymousActor = "anonymous"

// Actor resolves the caller identity from the gateway header. Authentication
// happens upstream; this service only attributes actions for the audit trail.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			actor = anonymousActor
		}
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}
