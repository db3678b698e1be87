package webserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Auth struct {
	jwtSecret      []byte
	operatorSecret string
}

func NewAuth(jwtSecret []byte, operatorSecret string) Auth {
	return Auth{jwtSecret: jwtSecret, operatorSecret: operatorSecret}
}

// Login exchanges the shared operator secret for a short-lived token.
func (a Auth) Login(c *gin.Context) {
	var req struct {
		Operator string `json:"operator" binding:"required"`
		Secret   string `json:"secret"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if a.operatorSecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(a.operatorSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"err": "bad credentials"})
		return
	}
	token, err := issueJWT(req.Operator, a.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
