package router

import (
	"errors"
	"net/http"

	"flea_market/internal/middleware"
	"flea_market/internal/model"
	"flea_market/internal/notify"
	rediskey "flea_market/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// createUser 管理员创建用户并发放登录 token（注册登录不在本服务内）。
func createUser(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name  string `json:"name" binding:"required,max=64"`
			Point int64  `json:"point" binding:"min=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, 400, err.Error())
			return
		}
		u := &model.User{Name: req.Name, Point: req.Point}
		if err := db.WithContext(c.Request.Context()).Create(u).Error; err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		token, err := middleware.IssueToken(secret, u.ID, "", adminTokenTTL)
		if err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, gin.H{"user": u, "token": token})
	}
}

// resolveReconciliation 人工对账完成后解除用户的支付挂起。
func resolveReconciliation(rdb rd.Cmdable) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "user_id")
		if !valid {
			return
		}
		hold, found, err := rediskey.GetChargeHold(c.Request.Context(), rdb, id)
		if err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		if !found {
			fail(c, http.StatusNotFound, 404, "该用户没有待对账的支付")
			return
		}
		if _, err := rediskey.ClearChargeHold(c.Request.Context(), rdb, id); err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, gin.H{
			"user_id":    id,
			"product_id": hold.ProductID,
			"amount":     hold.Amount,
			"event_id":   hold.EventID,
		})
	}
}

func me(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var u model.User
		if err := db.WithContext(c.Request.Context()).First(&u, middleware.UserID(c)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fail(c, http.StatusNotFound, 404, "用户不存在")
				return
			}
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, u)
	}
}

// listProducts 在售商品，不含自己出品的，最新的在前。
func listProducts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Product
		err := db.WithContext(c.Request.Context()).
			Where("sales_status = ? AND exhibitor_id <> ?", model.SalesOnDisplay, middleware.UserID(c)).
			Order("created_at DESC, id DESC").
			Find(&list).Error
		if err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, list)
	}
}

// createProduct 出品：出品者为当前用户，状态 on_display。
func createProduct(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        string `json:"name" binding:"required,max=128"`
			Description string `json:"description" binding:"max=1000"`
			Value       int64  `json:"value" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, 400, err.Error())
			return
		}
		p := &model.Product{
			ExhibitorID: middleware.UserID(c),
			Name:        req.Name,
			Description: req.Description,
			Value:       req.Value,
			SalesStatus: model.SalesOnDisplay,
		}
		if err := db.WithContext(c.Request.Context()).Create(p).Error; err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, p)
	}
}

func getProduct(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "product_id")
		if !valid {
			return
		}
		var p model.Product
		if err := db.WithContext(c.Request.Context()).First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fail(c, http.StatusNotFound, 404, "商品不存在")
				return
			}
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, p)
	}
}

// listNotifications isAction 缺省为 true（需要处理的通知）。
func listNotifications(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		isAction := defaultNotificationFlag
		if raw, set := c.GetQuery("isAction"); set {
			switch raw {
			case "true":
				isAction = true
			case "false":
				isAction = false
			default:
				fail(c, http.StatusBadRequest, 400, "isAction 只能是 true 或 false")
				return
			}
		}
		list, err := notify.List(c.Request.Context(), db, middleware.UserID(c), isAction)
		if err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, list)
	}
}

// listPendingRefunds 同步退款和消费者重试都失败、仍欠买家的款项。
func listPendingRefunds(rdb rd.Cmdable) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := rediskey.ListPendingRefunds(c.Request.Context(), rdb)
		if err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, list)
	}
}

// listExhibits 自己出品的商品。sales_status: all / on_display / sold，缺省为 all。
func listExhibits(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := db.WithContext(c.Request.Context()).Where("exhibitor_id = ?", middleware.UserID(c))
		switch status := c.Query("sales_status"); status {
		case "", "all":
		case string(model.SalesOnDisplay), string(model.SalesSold):
			q = q.Where("sales_status = ?", status)
		default:
			fail(c, http.StatusNotFound, 404, "未知的 sales_status")
			return
		}
		var list []model.Product
		if err := q.Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, list)
	}
}

// listPurchases 自己买到的订单。delivery_status: before_shipping（缺省）/ other，给空值时不过滤。
func listPurchases(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := db.WithContext(c.Request.Context()).Where("purchaser_id = ?", middleware.UserID(c))
		switch c.DefaultQuery("delivery_status", string(model.DeliveryBeforeShipping)) {
		case "":
		case string(model.DeliveryBeforeShipping):
			q = q.Where("delivery_status = ?", model.DeliveryBeforeShipping)
		case "other":
			q = q.Where("delivery_status <> ?", model.DeliveryBeforeShipping)
		default:
			fail(c, http.StatusNotFound, 404, "未知的 delivery_status")
			return
		}
		var list []model.Order
		if err := q.Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
			fail(c, http.StatusInternalServerError, 500, err.Error())
			return
		}
		ok(c, list)
	}
}
