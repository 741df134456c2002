package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// kindStatus 业务错误类型对应的 HTTP 状态码
var kindStatus = map[logic.ErrorKind]int{
	logic.KindValidation:         http.StatusBadRequest,
	logic.KindInvalidTransition:  http.StatusConflict,
	logic.KindNoBids:             http.StatusUnprocessableEntity,
	logic.KindAlreadyResolved:    http.StatusConflict,
	logic.KindConflict:           http.StatusConflict,
	logic.KindExternalDependency: http.StatusBadGateway,
	logic.KindNotFound:           http.StatusNotFound,
	logic.KindForbidden:          http.StatusForbidden,
	logic.KindInsufficientCredit: http.StatusPaymentRequired,
}

// LogicError 按错误类型输出，调用方可根据 kind 分支处理
func LogicError(c *gin.Context, err error) {
	kind := logic.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	var le *logic.Error
	if !errors.As(err, &le) {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		message = "internal error"
	}
	c.JSON(status, Response{
		Success: false,
		Message: message,
		Kind:    string(kind),
	})
}

// pathId 解析路径中的 id
func pathId(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// bindJSON 解析请求体，失败时直接响应
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// pageParams 分页参数
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPage := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		totalPage++
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPage: totalPage}
}
