package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

var (
	errNotAdmin  = errors.New("not a group admin")
	errNotMember = errors.New("not a group member")
)

// pathID parses a numeric path parameter, writing the error response
// itself so callers can just bail.
func pathID(c *gin.Context, name string) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id64), true
}
