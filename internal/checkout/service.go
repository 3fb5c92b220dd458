package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flea_market/internal/metrics"
	"flea_market/internal/model"
	"flea_market/internal/notify"
	"flea_market/internal/payment"
	"flea_market/internal/queue"
	"flea_market/pkg/logging"
	rediskey "flea_market/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EventSink 事件出口（Redis Stream outbox）。
type EventSink interface {
	Append(ctx context.Context, ev queue.Event) (string, error)
}

// Buyer 当前登录用户及其会话。
type Buyer struct {
	UserID    uint
	SessionID string
}

type Options struct {
	Currency         string
	Description      string
	ChargeTimeout    time.Duration
	SettleTimeout    time.Duration
	LockTTL          time.Duration
	TimeoutAsDecline bool
	SellerShareRate  decimal.Decimal
}

type Deps struct {
	DB         *gorm.DB
	Redis      rd.Cmdable
	Store      Store
	Gateway    payment.Gateway
	Emitter    *notify.Emitter
	Outbox     EventSink
	Reconciler *Reconciler
	Metrics    *metrics.Metrics
}

// Service 结算流程控制器。
type Service struct {
	db         *gorm.DB
	rdb        rd.Cmdable
	store      Store
	gateway    payment.Gateway
	emitter    *notify.Emitter
	outbox     EventSink
	reconciler *Reconciler
	metrics    *metrics.Metrics
	opts       Options
}

func NewService(d Deps, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "jpy"
	}
	if opts.ChargeTimeout <= 0 {
		opts.ChargeTimeout = 10 * time.Second
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 30 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.SellerShareRate.IsZero() {
		opts.SellerShareRate = decimal.RequireFromString("0.9")
	}
	if d.Emitter == nil {
		d.Emitter = notify.NewEmitter(d.Outbox)
	}
	if d.Reconciler == nil {
		d.Reconciler = NewReconciler(d.Redis, d.Gateway)
	}
	return &Service{
		db:         d.DB,
		rdb:        d.Redis,
		store:      d.Store,
		gateway:    d.Gateway,
		emitter:    d.Emitter,
		outbox:     d.Outbox,
		reconciler: d.Reconciler,
		metrics:    d.Metrics,
		opts:       opts,
	}
}

// Current 返回当前会话状态和已选商品（Empty 时商品为 nil）。
func (s *Service) Current(ctx context.Context, b Buyer) (State, *model.Product, error) {
	st, err := s.store.Load(ctx, b.SessionID)
	if err != nil {
		return nil, nil, err
	}
	item, ok := itemOf(st)
	if !ok {
		return st, nil, nil
	}
	p, err := s.loadProduct(ctx, item.ItemID)
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}

// BeginPurchase 第 1 步：选定商品与购买选项，覆盖之前的会话。
func (s *Service) BeginPurchase(ctx context.Context, b Buyer, itemID uint, sel Selections) (ItemSelected, error) {
	if sel.Quantity == 0 {
		sel.Quantity = 1
	}
	p, err := s.loadProduct(ctx, itemID)
	if err != nil {
		s.metrics.ObserveStep(StepConfirm.String(), "error")
		return ItemSelected{}, err
	}
	if p.SalesStatus != model.SalesOnDisplay {
		s.metrics.ObserveStep(StepConfirm.String(), "unavailable")
		return ItemSelected{}, ErrItemUnavailable
	}
	if p.ExhibitorID == b.UserID {
		s.metrics.ObserveStep(StepConfirm.String(), "own_item")
		return ItemSelected{}, ErrOwnItem
	}
	buyer, err := s.loadUser(ctx, b.UserID)
	if err != nil {
		return ItemSelected{}, err
	}
	if err := checkSelections(sel, p, buyer); err != nil {
		s.metrics.ObserveStep(StepConfirm.String(), "invalid")
		return ItemSelected{}, err
	}

	st := ItemSelected{ItemID: p.ID, Selections: sel}
	if err := s.store.Save(ctx, b.SessionID, st); err != nil {
		return ItemSelected{}, err
	}
	s.metrics.ObserveStep(StepConfirm.String(), "ok")
	return st, nil
}

// SubmitAddress 第 2 步。重复提交会回到 AddressSet，已填的卡 token 作废。
func (s *Service) SubmitAddress(ctx context.Context, b Buyer, addr ShippingAddress) (AddressSet, error) {
	st, err := s.store.Load(ctx, b.SessionID)
	if err != nil {
		return AddressSet{}, err
	}
	if err := guard(st, StepAddress); err != nil {
		s.metrics.ObserveStep(StepAddress.String(), "redirect")
		return AddressSet{}, err
	}
	item, _ := itemOf(st)

	addr = trimAddress(addr)
	if err := validateStruct(addr); err != nil {
		s.metrics.ObserveStep(StepAddress.String(), "invalid")
		return AddressSet{}, err
	}

	next := item.WithAddress(addr)
	if err := s.store.Save(ctx, b.SessionID, next); err != nil {
		return AddressSet{}, err
	}
	s.metrics.ObserveStep(StepAddress.String(), "ok")
	return next, nil
}

// SubmitCardToken 第 3 步。token 缺失时停留在本步提示重试。
func (s *Service) SubmitCardToken(ctx context.Context, b Buyer, token string) (TokenSet, error) {
	st, err := s.store.Load(ctx, b.SessionID)
	if err != nil {
		return TokenSet{}, err
	}
	if err := guard(st, StepPayment); err != nil {
		s.metrics.ObserveStep(StepPayment.String(), "redirect")
		return TokenSet{}, err
	}
	as, _ := addressOf(st)

	token = strings.TrimSpace(token)
	if token == "" {
		s.metrics.ObserveStep(StepPayment.String(), "token_missing")
		return TokenSet{}, ErrTokenMissing
	}

	next := as.WithCardToken(token)
	if err := s.store.Save(ctx, b.SessionID, next); err != nil {
		return TokenSet{}, err
	}
	s.metrics.ObserveStep(StepPayment.String(), "ok")
	return next, nil
}

// FinalizeCheckout 第 4 步：扣款并结算。
//
// 顺序：对账检查 -> 商品锁 -> 在售检查 -> 扣款（不重试）-> 结算事务 -> 清空会话。
// 扣款前失败不产生任何副作用；扣款后失败走退款补偿。
func (s *Service) FinalizeCheckout(ctx context.Context, b Buyer) (*Receipt, error) {
	start := time.Now()
	st, err := s.store.Load(ctx, b.SessionID)
	if err != nil {
		return nil, err
	}
	if err := guard(st, StepFinal); err != nil {
		s.metrics.ObserveStep(StepFinal.String(), "redirect")
		return nil, err
	}
	ts, _ := tokenOf(st)

	_, held, err := rediskey.GetChargeHold(ctx, s.rdb, b.UserID)
	if err != nil {
		return nil, fmt.Errorf("check charge hold: %w", err)
	}
	if held {
		s.metrics.ObserveStep(StepFinal.String(), "held")
		return nil, ErrReconciliationRequired
	}

	lockToken := uuid.NewString()
	locked, err := rediskey.AcquireProductLock(ctx, s.rdb, ts.ItemID, lockToken, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire product lock: %w", err)
	}
	if !locked {
		s.metrics.ObserveStep(StepFinal.String(), "conflict")
		return nil, ErrConflict
	}
	defer func() {
		if err := rediskey.ReleaseProductLock(context.WithoutCancel(ctx), s.rdb, ts.ItemID, lockToken); err != nil {
			logging.Log(logging.Fields{Service: "checkout", ProductID: ts.ItemID, Step: "unlock", Status: "error", Message: err.Error()})
		}
	}()

	p, err := s.loadProduct(ctx, ts.ItemID)
	if err != nil {
		return nil, err
	}
	if p.SalesStatus != model.SalesOnDisplay {
		s.metrics.ObserveStep(StepFinal.String(), "unavailable")
		return nil, ErrItemUnavailable
	}
	buyer, err := s.loadUser(ctx, b.UserID)
	if err != nil {
		return nil, err
	}
	// 价格或积分在第 1 步之后变了，回到第 1 步重新确认，避免扣款后落库失败
	if err := checkSelections(ts.Selections, p, buyer); err != nil {
		s.metrics.ObserveStep(StepFinal.String(), "stale")
		return nil, &RedirectError{To: StepConfirm, Reason: err.Error()}
	}

	chargeID, err := s.charge(ctx, b, ts, lockToken)
	if err != nil {
		return nil, err
	}

	// 已扣款：之后的落库不再跟随请求取消
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SettleTimeout)
	defer cancel()

	receipt, notice, err := s.settle(sctx, b.UserID, ts, chargeID)
	if err != nil {
		s.metrics.ObserveSettlement("failed")
		return nil, s.compensate(sctx, b, ts, chargeID, err)
	}
	s.metrics.ObserveSettlement("ok")

	s.emitter.Publish(sctx, notice)
	s.publish(sctx, func() queue.Event {
		ev := queue.NewEvent(queue.EventOrderSettled, b.UserID)
		ev.OrderID = receipt.OrderID
		ev.ProductID = receipt.ProductID
		ev.ChargeID = receipt.ChargeID
		ev.Amount = receipt.Price
		return ev
	}())

	if err := s.store.Clear(sctx, b.SessionID); err != nil {
		// 订单已成立；会话残留只会让下一次结算在在售检查处失败
		logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, OrderID: receipt.OrderID, Step: "session_clear", Status: "error", Message: err.Error()})
	}

	s.metrics.ObserveStep(StepFinal.String(), "ok")
	logging.Log(logging.Fields{
		Service: "checkout", UserID: b.UserID, ProductID: receipt.ProductID, OrderID: receipt.OrderID,
		ChargeID: chargeID, Step: "finalize", Status: "settled", DurationMS: time.Since(start).Milliseconds(),
	})
	return receipt, nil
}

// charge 调一次网关。拒付保留会话；结果未知时挂对账标记。
func (s *Service) charge(ctx context.Context, b Buyer, ts TokenSet, idemKey string) (string, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.opts.ChargeTimeout)
	defer cancel()

	chargeID, err := s.gateway.Charge(chargeCtx, payment.ChargeRequest{
		Amount:         ts.Selections.TotalAmount,
		Currency:       s.opts.Currency,
		Source:         ts.CardToken,
		Description:    s.opts.Description,
		IdempotencyKey: idemKey,
	})
	switch {
	case err == nil:
		s.metrics.ObserveCharge("succeeded")
		return chargeID, nil
	case errors.Is(err, payment.ErrDeclined), errors.Is(err, payment.ErrRejected):
		s.metrics.ObserveCharge("declined")
		s.metrics.ObserveStep(StepFinal.String(), "declined")
		logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ProductID: ts.ItemID, Step: "charge", Status: "declined", Message: err.Error()})
		return "", fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	case s.opts.TimeoutAsDecline:
		s.metrics.ObserveCharge("unknown_as_declined")
		s.metrics.ObserveStep(StepFinal.String(), "declined")
		logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ProductID: ts.ItemID, Step: "charge", Status: "unknown_as_declined", Message: err.Error()})
		return "", fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	// 超时 / 网络 / 网关 5xx / 其他：结果未知
	s.metrics.ObserveCharge("unknown")
	s.metrics.ObserveStep(StepFinal.String(), "unknown")
	ev := queue.NewEvent(queue.EventChargeUnknown, b.UserID)
	ev.ProductID = ts.ItemID
	ev.Amount = ts.Selections.TotalAmount
	ev.Reason = err.Error()

	bg := context.WithoutCancel(ctx)
	if herr := rediskey.PutChargeHold(bg, s.rdb, rediskey.ChargeHold{
		UserID: b.UserID, ProductID: ts.ItemID, Amount: ev.Amount, EventID: ev.EventID, Reason: ev.Reason,
	}); herr != nil {
		logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ProductID: ts.ItemID, EventID: ev.EventID, Step: "charge_hold", Status: "critical", Message: herr.Error()})
	}
	s.publish(bg, ev)
	logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ProductID: ts.ItemID, EventID: ev.EventID, Step: "charge", Status: "unknown", Message: err.Error()})
	return "", fmt.Errorf("%w: %v", ErrChargeUnknown, err)
}

// compensate 扣款成功但结算失败：先记下欠款，再立即退款一次；
// 退款失败时记录保留，并投递对账事件交给消费者重试。
func (s *Service) compensate(ctx context.Context, b Buyer, ts TokenSet, chargeID string, cause error) error {
	logging.Log(logging.Fields{
		Service: "checkout", UserID: b.UserID, ProductID: ts.ItemID, ChargeID: chargeID,
		Step: "settle", Status: "critical", Message: cause.Error(),
	})

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ChargeTimeout)
	defer cancel()

	if perr := rediskey.PutPendingRefund(bg, s.rdb, rediskey.PendingRefund{
		ChargeID: chargeID, UserID: b.UserID, ProductID: ts.ItemID, Amount: ts.Selections.TotalAmount, Reason: cause.Error(),
	}); perr != nil {
		logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ChargeID: chargeID, Step: "pending_refund", Status: "critical", Message: perr.Error()})
	}

	serr := &SettlementError{ChargeID: chargeID, Err: cause}
	err := s.reconciler.Refund(bg, chargeID)
	if err == nil {
		serr.Refunded = true
		logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ChargeID: chargeID, Step: "refund", Status: "refunded"})
		return serr
	}
	logging.Log(logging.Fields{Service: "checkout", UserID: b.UserID, ChargeID: chargeID, Step: "refund", Status: "critical", Message: err.Error()})

	ev := queue.NewEvent(queue.EventChargeUnrecorded, b.UserID)
	ev.ProductID = ts.ItemID
	ev.ChargeID = chargeID
	ev.Amount = ts.Selections.TotalAmount
	ev.Reason = cause.Error()
	s.publish(bg, ev)
	return serr
}

func (s *Service) publish(ctx context.Context, ev queue.Event) {
	if s.outbox == nil {
		return
	}
	if _, err := s.outbox.Append(ctx, ev); err != nil {
		logging.Log(logging.Fields{Service: "checkout", UserID: ev.UserID, EventID: ev.EventID, Step: "publish_" + ev.Type, Status: "error", Message: err.Error()})
	}
}

func (s *Service) loadProduct(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) loadUser(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &u, nil
}

// checkSelections 字段校验 + 与商品价格、买家积分的一致性。
func checkSelections(sel Selections, p *model.Product, buyer *model.User) error {
	if err := validateStruct(sel); err != nil {
		return err
	}
	fields := map[string]string{}
	if sel.PointsRedeemed > buyer.Point {
		fields["point"] = "积分余额不足"
	}
	if sel.PointsRedeemed > p.Value {
		fields["point"] = "使用积分不能超过商品价格"
	}
	if sel.TotalAmount != p.Value*int64(sel.Quantity)-sel.PointsRedeemed {
		fields["total_amount"] = "支付金额与商品价格不一致"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func trimAddress(a ShippingAddress) ShippingAddress {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.FirstNameKana = strings.TrimSpace(a.FirstNameKana)
	a.LastNameKana = strings.TrimSpace(a.LastNameKana)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Prefecture = strings.TrimSpace(a.Prefecture)
	a.Address = strings.TrimSpace(a.Address)
	a.Tel = strings.TrimSpace(a.Tel)
	return a
}
