package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cineolabs/cineo-backend/internal/credits"
	"github.com/cineolabs/cineo-backend/internal/http/response"
	"github.com/cineolabs/cineo-backend/internal/platform/ctxutil"
	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
)

type CreditsHandler struct {
	ledger *credits.Ledger
}

func NewCreditsHandler(ledger *credits.Ledger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// GET /api/credits
func (h *CreditsHandler) Balance(c *gin.Context) {
	userID := ctxutil.GetUserID(c.Request.Context())
	bal, err := h.ledger.Balance(dbctx.Context{Ctx: c.Request.Context()}, userID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_balance_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"credits": bal})
}
