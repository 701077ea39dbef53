package httpapi

import (
	"context"
	"net/http"
	"strconv"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/gin-gonic/gin"
)

const (
	codeUnauthorized goVerify.Code = "UNAUTHORIZED"
	codeForbidden    goVerify.Code = "FORBIDDEN"
)

// POST /v1/challenges
func (h *handler) issue(c *gin.Context) {
	var req goVerify.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, goVerify.ErrInvalidInput)
		return
	}

	ownerRef, ok := h.ownerRef(c, req.Purpose, req.OwnerRef)
	if !ok {
		return
	}
	res, err := h.engine.Issue(requestContext(c), ownerRef, req.Purpose, req.Channel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, goVerify.NewIssueResponse(res, h.now()))
}

// POST /v1/challenges/resend
func (h *handler) resend(c *gin.Context) {
	var req goVerify.ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, goVerify.ErrInvalidInput)
		return
	}

	ownerRef, ok := h.ownerRef(c, req.Purpose, req.OwnerRef)
	if !ok {
		return
	}
	res, err := h.engine.Resend(requestContext(c), ownerRef, req.Purpose)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, goVerify.NewIssueResponse(res, h.now()))
}

// POST /v1/challenges/:id/verify
func (h *handler) verify(c *gin.Context) {
	var req goVerify.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, goVerify.ErrInvalidInput)
		return
	}

	res, err := h.engine.Verify(requestContext(c), c.Param("id"), req.SubmittedSecret)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, goVerify.NewVerifyResponse(res, h.now()))
}

// POST /v1/links/verify
func (h *handler) verifyLink(c *gin.Context) {
	var req goVerify.LinkVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, goVerify.ErrInvalidInput)
		return
	}

	res, err := h.engine.VerifyLink(requestContext(c), req.Token)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, goVerify.NewVerifyResponse(res, h.now()))
}

// POST /v1/tokens/redeem
func (h *handler) redeem(c *gin.Context) {
	var req goVerify.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ActionTokenID == "" || !req.Purpose.Valid() {
		h.fail(c, goVerify.ErrInvalidInput)
		return
	}
	ctx := requestContext(c)

	if req.Purpose == goVerify.PurposeChangePassword {
		id, ok := identity(c)
		if !ok {
			abort(c, http.StatusUnauthorized, codeUnauthorized, "Sign in to change your password.")
			return
		}
		info, err := h.engine.InspectActionToken(ctx, req.ActionTokenID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if info.Purpose == req.Purpose && info.SubjectRef != id.AccountID {
			abort(c, http.StatusForbidden, codeForbidden, "This verification belongs to another account.")
			return
		}
	}

	mutate, err := h.actions.Prepare(ctx, req.Purpose, req.Payload)
	if err != nil {
		resp := goVerify.NewErrorResponse(goVerify.ErrInvalidInput)
		resp.Message = err.Error()
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
		return
	}

	if err := h.engine.Redeem(ctx, req.ActionTokenID, req.Purpose, mutate); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, goVerify.RedeemResponse{Success: true})
}

// ownerRef returns the owner a challenge is issued to. CHANGE_PASSWORD
// always targets the signed-in account's phone.
func (h *handler) ownerRef(c *gin.Context, purpose goVerify.Purpose, requested string) (string, bool) {
	if purpose != goVerify.PurposeChangePassword {
		return requested, true
	}
	id, ok := identity(c)
	if !ok {
		abort(c, http.StatusUnauthorized, codeUnauthorized, "Sign in to change your password.")
		return "", false
	}
	if id.Phone == "" {
		h.fail(c, goVerify.ErrInvalidInput)
		return "", false
	}
	return id.Phone, true
}

func (h *handler) fail(c *gin.Context, err error) {
	resp := goVerify.NewErrorResponse(err)
	status := resp.Code.HTTPStatus()
	if resp.Code == goVerify.CodeRateLimited && resp.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	if status >= http.StatusInternalServerError && resp.Code != goVerify.CodeActionFailed {
		h.logger.WithError(err).WithField("route", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, resp)
}

func abort(c *gin.Context, status int, code goVerify.Code, message string) {
	c.AbortWithStatusJSON(status, goVerify.ErrorResponse{Code: code, Message: message})
}

// requestContext carries the caller's IP and tenant into the engine.
func requestContext(c *gin.Context) context.Context {
	ctx := goVerify.WithClientIP(c.Request.Context(), c.ClientIP())

	tenantID := c.GetHeader(TenantHeader)
	if id, ok := identity(c); ok && id.TenantID != "" {
		tenantID = id.TenantID
	}
	if tenantID != "" {
		ctx = goVerify.WithTenantID(ctx, tenantID)
	}
	return ctx
}

func identity(c *gin.Context) (jwt.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return jwt.Identity{}, false
	}
	id, ok := v.(jwt.Identity)
	return id, ok
}
