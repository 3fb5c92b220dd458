package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"flea_market/internal/checkout"
	"flea_market/internal/config"
	"flea_market/internal/metrics"
	"flea_market/internal/middleware"
	"flea_market/internal/order"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 业务错误码，与 HTTP 状态码区分开的几种情况
const (
	codeChargeUnknown       = 40901
	codeReconcileRequired   = 40902
	codeSettlementFailed    = 50001
	codeSettlementRefunded  = 50002
	adminTokenTTL           = 24 * time.Hour
	defaultNotificationFlag = true
)

// Deps 路由依赖。
type Deps struct {
	DB       *gorm.DB
	Redis    rd.Cmdable
	Checkout *checkout.Service
	Orders   *order.Service
	Metrics  *metrics.Metrics
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps, cfg config.AppConfig) {
	r.Use(middleware.RequestMetrics(d.Metrics))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	admin := r.Group("/api/admin", middleware.AdminOnly(cfg.AdminToken))
	admin.POST("/users", createUser(d.DB, cfg.JWTSecret))
	admin.POST("/reconciliation/:user_id/resolve", resolveReconciliation(d.Redis))
	admin.GET("/refunds/pending", listPendingRefunds(d.Redis))

	api := r.Group("/api", middleware.Auth(cfg.JWTSecret))
	api.GET("/me", me(d.DB))
	api.GET("/me/products", listExhibits(d.DB))
	api.GET("/me/orders", listPurchases(d.DB))
	// Products
	api.GET("/products", listProducts(d.DB))
	api.POST("/products", createProduct(d.DB))
	api.GET("/products/:product_id", getProduct(d.DB))
	// Checkout
	api.GET("/checkout", currentCheckout(d.Checkout))
	api.POST("/checkout/:product_id/confirm", beginPurchase(d.Checkout))
	api.POST("/checkout/address", submitAddress(d.Checkout))
	api.POST("/checkout/payment", submitCardToken(d.Checkout))
	api.POST("/checkout/finalize",
		middleware.RedisRateLimit(d.Redis, cfg.CheckoutRateLimit, cfg.CheckoutRateWindow),
		finalizeCheckout(d.Checkout))
	// Orders / notifications
	api.POST("/orders/:order_id/delivery", advanceDelivery(d.Orders))
	api.GET("/notifications", listNotifications(d.DB))
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func fail(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"code": code, "msg": msg})
}

func buyer(c *gin.Context) checkout.Buyer {
	return checkout.Buyer{UserID: middleware.UserID(c), SessionID: middleware.SessionID(c)}
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, 400, name+" 无效")
		return 0, false
	}
	return uint(id), true
}

// stepLocation 回退目标对应的页面。
func stepLocation(s checkout.Step) string {
	switch s {
	case checkout.StepAddress, checkout.StepPayment:
		return "/api/checkout?step=" + s.String()
	}
	return "/api/products"
}

// writeCheckoutError 把结算流程的错误映射成 HTTP 响应。
func writeCheckoutError(c *gin.Context, err error) {
	var (
		redirect *checkout.RedirectError
		invalid  *checkout.ValidationError
		settle   *checkout.SettlementError
	)
	switch {
	case errors.As(err, &redirect):
		c.Header("Location", stepLocation(redirect.To))
		c.JSON(http.StatusFound, gin.H{
			"code": http.StatusFound,
			"msg":  "请先完成前面的步骤",
			"data": gin.H{"step": redirect.To.String(), "location": stepLocation(redirect.To), "reason": redirect.Reason},
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "输入有误", "data": gin.H{"fields": invalid.Fields}})
	case errors.As(err, &settle):
		code, msg := codeSettlementFailed, "扣款成功但订单未能生成，已登记退款处理"
		if settle.Refunded {
			code, msg = codeSettlementRefunded, "订单未能生成，款项已退回"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": code, "msg": msg, "data": gin.H{"charge_id": settle.ChargeID}})
	case errors.Is(err, checkout.ErrNotFound):
		fail(c, http.StatusNotFound, 404, "商品不存在")
	case errors.Is(err, checkout.ErrOwnItem):
		fail(c, http.StatusForbidden, 403, "不能购买自己出品的商品")
	case errors.Is(err, checkout.ErrTokenMissing):
		fail(c, http.StatusUnprocessableEntity, 422, "未获取到卡信息，请重新输入")
	case errors.Is(err, checkout.ErrPaymentDeclined):
		fail(c, http.StatusPaymentRequired, 402, "卡支付失败，请更换卡后重试")
	case errors.Is(err, checkout.ErrConflict):
		fail(c, http.StatusConflict, 409, "其他用户正在购买该商品")
	case errors.Is(err, checkout.ErrItemUnavailable):
		fail(c, http.StatusConflict, 409, "商品已售出")
	case errors.Is(err, checkout.ErrChargeUnknown):
		fail(c, http.StatusConflict, codeChargeUnknown, "支付结果未知，请勿重复支付，等待对账")
	case errors.Is(err, checkout.ErrReconciliationRequired):
		fail(c, http.StatusConflict, codeReconcileRequired, "存在待对账的支付，暂时无法结算")
	default:
		fail(c, http.StatusInternalServerError, 500, err.Error())
	}
}
