package checkout

import (
	"context"
	"errors"
	"fmt"

	"flea_market/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Receipt 结算成功后的结果。
type Receipt struct {
	OrderID   uint   `json:"order_id"`
	ProductID uint   `json:"product_id"`
	PaymentID uint   `json:"payment_id"`
	ChargeID  string `json:"charge_id"`
	Price     int64  `json:"price"`
}

// SellerShare 卖家到账积分 = floor(value * rate)。
func SellerShare(value int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(value).Mul(rate).Floor().IntPart()
}

// settle 在一个事务里完成：地址快照、支付记录、订单、商品售出、积分转移、卖家通知。
// 任一步失败整体回滚。返回的通知在提交后再投递。
func (s *Service) settle(ctx context.Context, buyerID uint, st TokenSet, chargeID string) (*Receipt, *model.Notification, error) {
	var (
		receipt Receipt
		notice  *model.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Product
		// postgres 下锁行；sqlite 忽略 FOR UPDATE，靠下面的条件更新兜底
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, st.ItemID).Error; err != nil {
			return fmt.Errorf("load product: %w", err)
		}
		if !p.SalesStatus.CanTransitionTo(model.SalesSold) {
			return errAlreadySold
		}
		res := tx.Model(&model.Product{}).
			Where("id = ? AND sales_status = ?", p.ID, model.SalesOnDisplay).
			Update("sales_status", model.SalesSold)
		if res.Error != nil {
			return fmt.Errorf("mark product sold: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return errAlreadySold
		}

		a := st.Address
		addr := &model.Address{
			FirstName:     a.FirstName,
			LastName:      a.LastName,
			FirstNameKana: a.FirstNameKana,
			LastNameKana:  a.LastNameKana,
			PostalCode:    a.PostalCode,
			Prefecture:    a.Prefecture,
			Address:       a.Address,
			Tel:           a.Tel,
		}
		if err := tx.Create(addr).Error; err != nil {
			return fmt.Errorf("create address: %w", err)
		}

		pay := &model.Payment{UserID: buyerID, ChargeID: chargeID}
		if err := tx.Create(pay).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		order := &model.Order{
			ProductID:      p.ID,
			PurchaserID:    buyerID,
			AddressID:      addr.ID,
			PaymentID:      pay.ID,
			Price:          st.Selections.TotalAmount,
			DeliveryStatus: model.DeliveryBeforeShipping,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if pts := st.Selections.PointsRedeemed; pts > 0 {
			res := tx.Model(&model.User{}).
				Where("id = ? AND point >= ?", buyerID, pts).
				Update("point", gorm.Expr("point - ?", pts))
			if res.Error != nil {
				return fmt.Errorf("debit buyer point: %w", res.Error)
			}
			if res.RowsAffected != 1 {
				return errInsufficientPoint
			}
		}

		share := SellerShare(p.Value, s.opts.SellerShareRate)
		res = tx.Model(&model.User{}).
			Where("id = ?", p.ExhibitorID).
			Update("point", gorm.Expr("point + ?", share))
		if res.Error != nil {
			return fmt.Errorf("credit seller point: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("credit seller point: exhibitor %d not found", p.ExhibitorID)
		}

		n, err := s.emitter.Emit(tx, p.ExhibitorID, order.ID, true)
		if err != nil {
			return err
		}
		notice = n

		receipt = Receipt{
			OrderID:   order.ID,
			ProductID: p.ID,
			PaymentID: pay.ID,
			ChargeID:  chargeID,
			Price:     order.Price,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, nil, err
	}
	return &receipt, notice, nil
}
