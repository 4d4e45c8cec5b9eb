package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/validation"
)

type orderView struct {
	*orders.Order
	Transactions []payments.Transaction `json:"transactions"`
}

func (a *api) withTransactions(c *gin.Context, o *orders.Order) (orderView, error) {
	txs, err := a.cfg.Orders.Transactions(c.Request.Context(), o.ID)
	if err != nil {
		return orderView{}, apperr.Unavailable(err, "load transactions")
	}
	if txs == nil {
		txs = []payments.Transaction{}
	}
	return orderView{Order: o, Transactions: txs}, nil
}

func orderNotFound(id string) error {
	return apperr.Newf(apperr.KindNotFound, apperr.CodeOrderNotFound, "order %s not found", id)
}

func (a *api) getOrder(c *gin.Context) {
	userID := c.GetHeader(headerUserID)
	if userID == "" {
		unauthenticated(c, headerUserID)
		return
	}
	id := c.Param("id")

	o, err := a.cfg.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, apperr.Unavailable(err, "load order"))
		return
	}
	// other users' orders read as missing
	if o == nil || o.UserID != userID {
		writeError(c, orderNotFound(id))
		return
	}

	view, err := a.withTransactions(c, o)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *api) getOrderGroup(c *gin.Context) {
	userID := c.GetHeader(headerUserID)
	if userID == "" {
		unauthenticated(c, headerUserID)
		return
	}
	groupID := c.Param("groupId")

	list, err := a.cfg.Orders.OrdersByGroup(c.Request.Context(), groupID)
	if err != nil {
		writeError(c, apperr.Unavailable(err, "load order group"))
		return
	}

	views := make([]orderView, 0, len(list))
	for i := range list {
		if list[i].UserID != userID {
			continue
		}
		view, err := a.withTransactions(c, &list[i])
		if err != nil {
			writeError(c, err)
			return
		}
		views = append(views, view)
	}
	if len(views) == 0 {
		writeError(c, apperr.Newf(apperr.KindNotFound, apperr.CodeOrderNotFound, "order group %s not found", groupID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_group_id": groupID, "orders": views})
}

func (a *api) updateStatus(c *gin.Context) {
	actor := c.GetHeader(headerActorID)
	if actor == "" {
		unauthenticated(c, headerActorID)
		return
	}

	var req validation.StatusUpdateRequest
	if err := validation.BindAndValidate(c, &req, a.validator); err != nil {
		return
	}

	o, err := a.cfg.Status.Transition(c.Request.Context(), orders.TransitionRequest{
		OrderID:                  c.Param("id"),
		Target:                   orders.Status(req.Status),
		Actor:                    actor,
		Reason:                   req.Reason,
		EstimatedDeliveryMinutes: req.EstimatedDeliveryMinutes,
	})
	if err != nil {
		a.requestLogger(c).WithError(err).WithField("order_id", c.Param("id")).Warn("status update rejected")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
