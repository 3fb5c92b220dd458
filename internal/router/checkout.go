package router

import (
	"errors"
	"io"
	"net/http"

	"flea_market/internal/checkout"
	"flea_market/internal/model"
	"flea_market/internal/order"

	"github.com/gin-gonic/gin"
)

// checkoutView 确认页 / 地址页 / 支付页共用的会话视图，不回传卡 token。
type checkoutView struct {
	Stage      string                    `json:"stage"`
	NextStep   string                    `json:"next_step"`
	Product    *model.Product            `json:"product,omitempty"`
	Selections *checkout.Selections      `json:"selections,omitempty"`
	Address    *checkout.ShippingAddress `json:"address,omitempty"`
	HasToken   bool                      `json:"has_card_token"`
}

func newCheckoutView(st checkout.State, p *model.Product) checkoutView {
	v := checkoutView{Stage: st.Stage().String(), NextStep: checkout.NextStep(st).String(), Product: p}
	switch s := st.(type) {
	case checkout.ItemSelected:
		v.Selections = &s.Selections
	case checkout.AddressSet:
		v.Selections, v.Address = &s.Selections, &s.Address
	case checkout.TokenSet:
		v.Selections, v.Address, v.HasToken = &s.Selections, &s.Address, true
	}
	return v
}

// currentCheckout 查询当前会话进度。
func currentCheckout(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, p, err := svc.Current(c.Request.Context(), buyer(c))
		if err != nil {
			writeCheckoutError(c, err)
			return
		}
		ok(c, newCheckoutView(st, p))
	}
}

// beginPurchase 第 1 步：确认商品与积分使用。
func beginPurchase(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "product_id")
		if !valid {
			return
		}
		var sel checkout.Selections
		if err := c.ShouldBindJSON(&sel); err != nil {
			fail(c, http.StatusBadRequest, 400, err.Error())
			return
		}
		st, err := svc.BeginPurchase(c.Request.Context(), buyer(c), id, sel)
		if err != nil {
			writeCheckoutError(c, err)
			return
		}
		ok(c, newCheckoutView(st, nil))
	}
}

// submitAddress 第 2 步：收货地址。
func submitAddress(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var addr checkout.ShippingAddress
		if err := c.ShouldBindJSON(&addr); err != nil {
			fail(c, http.StatusBadRequest, 400, err.Error())
			return
		}
		st, err := svc.SubmitAddress(c.Request.Context(), buyer(c), addr)
		if err != nil {
			writeCheckoutError(c, err)
			return
		}
		ok(c, newCheckoutView(st, nil))
	}
}

// submitCardToken 第 3 步：前端卡组件返回的 token，字段名沿用 stripeToken。
func submitCardToken(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"stripeToken" form:"stripeToken"`
		}
		// 没有 body 等同于 token 缺失，交给 SubmitCardToken 判断
		if err := c.ShouldBind(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(c, http.StatusBadRequest, 400, err.Error())
			return
		}
		st, err := svc.SubmitCardToken(c.Request.Context(), buyer(c), req.Token)
		if err != nil {
			writeCheckoutError(c, err)
			return
		}
		ok(c, newCheckoutView(st, nil))
	}
}

// finalizeCheckout 第 4 步：扣款并生成订单。
func finalizeCheckout(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		receipt, err := svc.FinalizeCheckout(c.Request.Context(), buyer(c))
		if err != nil {
			writeCheckoutError(c, err)
			return
		}
		ok(c, receipt)
	}
}

// advanceDelivery 推进配送状态。
func advanceDelivery(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "order_id")
		if !valid {
			return
		}
		tr, err := svc.AdvanceDelivery(c.Request.Context(), id, buyer(c).UserID)
		switch {
		case err == nil:
			ok(c, tr)
		case errors.Is(err, order.ErrNotFound):
			fail(c, http.StatusNotFound, 404, "订单不存在")
		case errors.Is(err, order.ErrForbidden):
			fail(c, http.StatusForbidden, 403, "无权修改该订单的配送状态")
		case errors.Is(err, order.ErrConflict):
			fail(c, http.StatusConflict, 409, "配送状态已被更新，请刷新后重试")
		default:
			fail(c, http.StatusInternalServerError, 500, err.Error())
		}
	}
}
