package handler

import (
	"net/http"

	"github.com/blues/pes/internal/logic"
	"github.com/gin-gonic/gin"
)

// ActorKey 认证中间件写入调用方身份的键
const ActorKey = "pes.actor"

// CurrentActor 取认证后的调用方
func CurrentActor(c *gin.Context) (logic.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return logic.Actor{}, false
	}
	actor, ok := v.(logic.Actor)
	return actor, ok
}

// mustActor 未认证时直接响应 401
func mustActor(c *gin.Context) (logic.Actor, bool) {
	actor, ok := CurrentActor(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "authentication required")
	}
	return actor, ok
}
