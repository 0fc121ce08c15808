package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/domain"
)

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Bad Request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

// parseListFilter reads page, per_page, query and order. On invalid input it
// writes a 400 and returns false.
func parseListFilter(c *gin.Context, queryFields, orderFields util.Fields) (util.ListFilter, bool) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(util.DefaultPerPage)))

	filter, err := util.NewListFilter(c.Query("query"), c.Query("order"), page, perPage, queryFields, orderFields)
	if err != nil {
		badRequest(c, err.Error())
		return filter, false
	}
	return filter, true
}

func statusLink(process *domain.Process) *string {
	link := fmt.Sprintf("/status/%s", process.CommandID)
	return &link
}

func asyncResponse(process *domain.Process) dto.AsyncResponse {
	return dto.AsyncResponse{
		Status:     string(process.Status),
		Link:       statusLink(process),
		CommandID:  &process.CommandID,
		ResourceID: process.ResourceID(),
	}
}
