package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/gatepass/internal/api/handlers"
	"github.com/your-org/gatepass/internal/api/ws"
	"github.com/your-org/gatepass/internal/auth"
)

type RouterConfig struct {
	APIKey     string
	Faces      handlers.FaceService
	StagingTTL time.Duration
	Hub        *ws.Hub
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	faceH := handlers.NewFaceHandler(cfg.Faces, cfg.StagingTTL)
	v1.POST("/face/validate", faceH.Validate)
	v1.POST("/face/register", faceH.Register)
	v1.POST("/face/verify", faceH.Verify)
	v1.POST("/face/verify-replace", faceH.VerifyReplace)
	v1.GET("/face/:user_id", faceH.Get)
	v1.GET("/face/:user_id/image", faceH.Image)
	v1.DELETE("/face/:user_id", faceH.Delete)
	v1.GET("/face/:user_id/evidence", faceH.ListEvidence)
	v1.GET("/face/:user_id/evidence/:name", faceH.GetEvidence)

	return r
}
