// internal/handlers/upgrade/upgrade_handler.go
package upgrade

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"upgrade-service/internal/domain/payment"
	domain "upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/middleware"
	xerrors "upgrade-service/internal/pkg/errors"
	"upgrade-service/internal/pkg/response"
	service "upgrade-service/internal/service/upgrade"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UpgradeHandler struct {
	upgradeService *service.Service
	logger         *zap.Logger
}

func NewUpgradeHandler(upgradeService *service.Service, logger *zap.Logger) *UpgradeHandler {
	return &UpgradeHandler{
		upgradeService: upgradeService,
		logger:         logger,
	}
}

type candidatesResponse struct {
	BaseSubscriptionID int64               `json:"base_subscription_id"`
	Candidates         []service.Candidate `json:"candidates"`
}

type paymentStatusRequest struct {
	From payment.Status `json:"from" binding:"required"`
	To   payment.Status `json:"to" binding:"required"`
}

// ListCandidates returns the ranked upgrades for the caller.
func (h *UpgradeHandler) ListCandidates(c *gin.Context) {
	res, err := h.upgradeService.Candidates(c.Request.Context(), queryFrom(c))
	if err != nil {
		h.fail(c, "failed to resolve upgrades", err)
		return
	}

	response.Success(c, http.StatusOK, "upgrades retrieved", candidatesResponse{
		BaseSubscriptionID: res.Base.ID,
		Candidates:         res.Describe(),
	})
}

// Execute runs the candidate at :index of the list the same query returns.
func (h *UpgradeHandler) Execute(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.ValidationError(c, "invalid candidate index", err)
		return
	}

	out, err := h.upgradeService.Execute(c.Request.Context(), queryFrom(c), index)
	if err != nil {
		h.fail(c, "failed to execute upgrade", err)
		return
	}
	if !out.Success {
		response.Error(c, http.StatusPaymentRequired, "payment declined", nil, out)
		return
	}

	status := http.StatusOK
	if out.Deferred {
		status = http.StatusAccepted
	}
	response.Success(c, status, "upgrade executed", out)
}

// PaymentStatusChanged completes deferred upgrades funded by the payment.
func (h *UpgradeHandler) PaymentStatusChanged(c *gin.Context) {
	paymentID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req paymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	out, err := h.upgradeService.PaymentStatusChanged(c.Request.Context(), paymentID, req.From, req.To)
	if err != nil {
		h.fail(c, "failed to apply payment status", err)
		return
	}
	if out == nil {
		response.Success(c, http.StatusOK, "nothing to apply", nil)
		return
	}
	response.Success(c, http.StatusOK, "upgrade applied", out)
}

// SubscriptionRenewed extends trials riding on the renewed subscription.
func (h *UpgradeHandler) SubscriptionRenewed(c *gin.Context) {
	subscriptionID, ok := int64Param(c, "id")
	if !ok {
		return
	}

	extended, err := h.upgradeService.SubscriptionRenewed(c.Request.Context(), subscriptionID)
	if err != nil {
		h.fail(c, "failed to extend trials", err)
		return
	}
	response.Success(c, http.StatusOK, "trials extended", gin.H{"extended": extended})
}

// FinalizeTrial runs the configured upgrade for an ended trial.
func (h *UpgradeHandler) FinalizeTrial(c *gin.Context) {
	subscriptionID, ok := int64Param(c, "subscription_id")
	if !ok {
		return
	}

	out, err := h.upgradeService.FinalizeTrial(c.Request.Context(), subscriptionID)
	if err != nil {
		h.fail(c, "failed to finalize trial", err)
		return
	}
	if out == nil {
		response.Success(c, http.StatusOK, "trial already finalized", nil)
		return
	}
	response.Success(c, http.StatusOK, "trial finalized", out)
}

func (h *UpgradeHandler) fail(c *gin.Context, message string, err error) {
	if reason, ok := domain.ReasonOf(err); ok {
		response.Reason(c, reasonStatus(reason), string(reason), err.Error())
		return
	}
	if errors.Is(err, xerrors.ErrNotFound) {
		response.Error(c, http.StatusNotFound, message, err)
		return
	}

	h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	response.Error(c, http.StatusInternalServerError, message, nil)
}

func reasonStatus(r domain.Reason) int {
	switch r {
	case domain.ReasonNotLoggedIn:
		return http.StatusUnauthorized
	case domain.ReasonNoSubscription, domain.ReasonInvalidCandidate:
		return http.StatusNotFound
	case domain.ReasonNoBasePayment:
		return http.StatusUnprocessableEntity
	case domain.ReasonLockNotAcquired, domain.ReasonNotUsable:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func queryFrom(c *gin.Context) service.Query {
	userID, _ := middleware.GetIdentityID(c)
	enforce, _ := strconv.ParseBool(c.Query("enforce_content"))
	return service.Query{
		UserID:                userID,
		TargetContent:         listParam(c, "content"),
		RequiredTags:          listParam(c, "tags"),
		EnforceRequireContent: enforce,
	}
}

// listParam accepts both repeated and comma-separated values.
func listParam(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func int64Param(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "invalid "+key, err)
		return 0, false
	}
	return id, true
}
