package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/nombot/src/components/poll"
	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
	"gorm.io/gorm"
)

// Votes is the structured ballot surface the poll widget talks to.
// Voter identity only ever enters storage as a keyed hash.
type Votes struct {
	db         *gorm.DB
	repo       data.NomineeRepo
	polls      *poll.Source
	hashSecret string
}

func NewVotes(db *gorm.DB, repo data.NomineeRepo, polls *poll.Source, hashSecret string) Votes {
	return Votes{db: db, repo: repo, polls: polls, hashSecret: hashSecret}
}

func (v Votes) Cast(c *gin.Context) {
	var req struct {
		NomineeID string `json:"nomineeId" binding:"required"`
		VoterRef  string `json:"voterRef"  binding:"required"`
		Choice    string `json:"choice"    binding:"required,oneof=yes no"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	n, err := v.repo.Get(c, req.NomineeID)
	if errors.Is(err, data.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "nominee not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if n.State != types.StateVote {
		c.JSON(http.StatusConflict, gin.H{"err": "vote is not open"})
		return
	}

	voterHash := poll.HashVoter(v.hashSecret, req.VoterRef)
	if err := data.CastBallot(c, v.db, n.ID, voterHash, req.Choice == "yes"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

func (v Votes) Summary(c *gin.Context) {
	yes, no, err := data.CountBallots(c, v.db, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"yes": yes, "no": no})
}

func (v Votes) Close(c *gin.Context) {
	n, err := v.repo.Get(c, c.Param("id"))
	if errors.Is(err, data.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "nominee not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	if err := v.polls.Close(c, n.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
