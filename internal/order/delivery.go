// Package order 订单成立之后的配送状态推进。
package order

import (
	"context"
	"errors"
	"fmt"

	"flea_market/internal/model"
	"flea_market/internal/notify"
	"flea_market/pkg/logging"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("order: not found")
	ErrForbidden = errors.New("order: only the exhibitor or purchaser may change delivery status")
	// ErrConflict 并发推进时状态已被别人改掉。
	ErrConflict = errors.New("order: delivery status changed concurrently")
)

type Service struct {
	db      *gorm.DB
	emitter *notify.Emitter
}

func NewService(db *gorm.DB, emitter *notify.Emitter) *Service {
	return &Service{db: db, emitter: emitter}
}

// Transition 一次推进的结果；Changed=false 表示已是 delivered，未做任何修改。
type Transition struct {
	OrderID   uint                 `json:"order_id"`
	ProductID uint                 `json:"product_id"`
	From      model.DeliveryStatus `json:"from"`
	To        model.DeliveryStatus `json:"to"`
	Changed   bool                 `json:"changed"`
}

// AdvanceDelivery before_shipping -> shipped（仅出品者，通知买家）
// 或 shipped -> delivered（出品者或买家，不通知）。delivered 再调用是空操作。
func (s *Service) AdvanceDelivery(ctx context.Context, orderID, actorID uint) (Transition, error) {
	var (
		out    Transition
		notice *model.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		if err := tx.First(&o, orderID).Error; err != nil {
			return err
		}
		var p model.Product
		if err := tx.Unscoped().First(&p, o.ProductID).Error; err != nil {
			return fmt.Errorf("load product %d: %w", o.ProductID, err)
		}
		out = Transition{OrderID: o.ID, ProductID: p.ID, From: o.DeliveryStatus, To: o.DeliveryStatus}

		isExhibitor := actorID == p.ExhibitorID
		isPurchaser := actorID == o.PurchaserID
		if !isExhibitor && !isPurchaser {
			return ErrForbidden
		}

		next, ok := o.DeliveryStatus.Next()
		if !ok {
			return nil
		}
		if o.DeliveryStatus == model.DeliveryBeforeShipping && !isExhibitor {
			return ErrForbidden
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND delivery_status = ?", o.ID, o.DeliveryStatus).
			Update("delivery_status", next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConflict
		}
		out.To = next
		out.Changed = true

		if next == model.DeliveryShipped {
			n, err := s.emitter.Emit(tx, o.PurchaserID, o.ID, false)
			if err != nil {
				return err
			}
			notice = n
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Transition{}, ErrNotFound
		}
		return Transition{}, err
	}

	s.emitter.Publish(ctx, notice)
	if out.Changed {
		logging.Log(logging.Fields{
			Service: "order", UserID: actorID, OrderID: out.OrderID, Step: "delivery",
			Status: out.To.String(), Message: "from " + out.From.String(),
		})
	}
	return out, nil
}
