package webserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/nombot/src/components/lifecycle"
	"github.com/stake-plus/nombot/src/data"
	"github.com/stake-plus/nombot/src/types"
)

type Queue struct {
	repo    data.NomineeRepo
	sched   *lifecycle.Scheduler
	guildID string
}

func NewQueue(repo data.NomineeRepo, sched *lifecycle.Scheduler, guildID string) Queue {
	return Queue{repo: repo, sched: sched, guildID: guildID}
}

type queueEntry struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	State           string     `json:"state"`
	Position        int        `json:"position,omitempty"`
	DiscussionStart *time.Time `json:"discussionStart,omitempty"`
	VoteStart       *time.Time `json:"voteStart,omitempty"`
	CleanupStart    *time.Time `json:"cleanupStart,omitempty"`
}

func (q Queue) guild(c *gin.Context) string {
	if g := c.Query("guild"); g != "" {
		return g
	}
	return q.guildID
}

// List returns the in-flight nominee (if any) followed by the Active
// queue in FIFO order.
func (q Queue) List(c *gin.Context) {
	guildID := q.guild(c)

	var out []queueEntry
	if cur, err := q.repo.FindInProgress(c, guildID); err == nil {
		out = append(out, toEntry(*cur, 0))
	} else if !errors.Is(err, data.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	active, err := q.repo.ListActive(c, guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	for i, n := range active {
		out = append(out, toEntry(n, i+1))
	}

	c.JSON(http.StatusOK, gin.H{"queue": out})
}

func (q Queue) Recalc(c *gin.Context) {
	if err := q.sched.RecalcGuild(c, q.guild(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (q Queue) ForceStart(c *gin.Context) {
	n, err := q.repo.Get(c, c.Param("id"))
	if errors.Is(err, data.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "nominee not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	if err := q.sched.ForceStart(c, n.GuildID, n.Name); err != nil {
		var conflict *lifecycle.InProgressConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{"err": conflict.Error()})
			return
		}
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusConflict, gin.H{"err": invalid.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func toEntry(n types.Nominee, position int) queueEntry {
	return queueEntry{
		ID:              n.ID,
		Name:            n.Name,
		State:           n.State.String(),
		Position:        position,
		DiscussionStart: n.DiscussionStart,
		VoteStart:       n.VoteStart,
		CleanupStart:    n.CleanupStart,
	}
}
