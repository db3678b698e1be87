package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stake-plus/nombot/src/components/lifecycle"
	"github.com/stake-plus/nombot/src/components/poll"
	"github.com/stake-plus/nombot/src/config"
	"github.com/stake-plus/nombot/src/data"
	"gorm.io/gorm"
)

// New builds the operations API: queue inspection, manual lifecycle
// triggers and the structured ballot surface the poll source reads.
func New(cfg config.Config, db *gorm.DB, repo data.NomineeRepo, sched *lifecycle.Scheduler, polls *poll.Source) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, db, repo, sched, polls)
	return g
}

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, repo data.NomineeRepo, sched *lifecycle.Scheduler, polls *poll.Source) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	authH := NewAuth([]byte(cfg.JWTSecret), cfg.OperatorSecret)
	queueH := NewQueue(repo, sched, cfg.GuildID)
	voteH := NewVotes(db, repo, polls, cfg.VoterHashSecret)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/login", authH.Login)

		secured := v1.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
		secured.GET("/queue", queueH.List)
		secured.POST("/recalc", queueH.Recalc)
		secured.POST("/nominees/:id/forcestart", queueH.ForceStart)
		secured.POST("/votes", voteH.Cast)
		secured.GET("/votes/:id", voteH.Summary)
		secured.POST("/votes/:id/close", voteH.Close)
	}
}
