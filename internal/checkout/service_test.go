package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"flea_market/internal/model"
	"flea_market/internal/payment"
	"flea_market/internal/queue"
	rediskey "flea_market/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGateway struct {
	mu        sync.Mutex
	charges   []payment.ChargeRequest
	refunds   []string
	chargeErr error
	refundErr error
	// onCharge 在返回前执行，用于模拟并发与外部改动
	onCharge func()
}

func (g *fakeGateway) Charge(_ context.Context, req payment.ChargeRequest) (string, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	n := len(g.charges)
	hook, err := g.onCharge, g.chargeErr
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ch_test_%d", n), nil
}

func (g *fakeGateway) Refund(_ context.Context, chargeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, chargeID)
	return nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type fixture struct {
	db      *gorm.DB
	rdb     *rd.Client
	mr      *miniredis.Miniredis
	gw      *fakeGateway
	svc     *Service
	store   *RedisStore
	seller  model.User
	buyer   model.User
	product model.Product
	b       Buyer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.All()...))

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{db: db, rdb: rdb, mr: mr, gw: &fakeGateway{}}
	f.store = NewRedisStore(rdb, time.Hour)
	f.svc = NewService(Deps{
		DB:      db,
		Redis:   rdb,
		Store:   f.store,
		Gateway: f.gw,
		Outbox:  queue.NewOutbox(rdb, "events"),
	}, Options{Description: "FreeMa", ChargeTimeout: 5 * time.Second, LockTTL: time.Minute})

	f.seller = model.User{Name: "seller", Point: 0}
	f.buyer = model.User{Name: "buyer", Point: 500}
	require.NoError(t, db.Create(&f.seller).Error)
	require.NoError(t, db.Create(&f.buyer).Error)
	f.product = model.Product{ExhibitorID: f.seller.ID, Name: "camera", Value: 1000, SalesStatus: model.SalesOnDisplay}
	require.NoError(t, db.Create(&f.product).Error)

	f.b = Buyer{UserID: f.buyer.ID, SessionID: "sess-buyer"}
	return f
}

func validAddress() ShippingAddress {
	return ShippingAddress{
		FirstName: "太郎", LastName: "山田", FirstNameKana: "タロウ", LastNameKana: "ヤマダ",
		PostalCode: "150-0001", Prefecture: "東京都", Address: "渋谷区神宮前1-1-1", Tel: "09012345678",
	}
}

// walk 让 b 走完前三步。
func (f *fixture) walk(t *testing.T, b Buyer, sel Selections, token string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.BeginPurchase(ctx, b, f.product.ID, sel)
	require.NoError(t, err)
	_, err = f.svc.SubmitAddress(ctx, b, validAddress())
	require.NoError(t, err)
	_, err = f.svc.SubmitCardToken(ctx, b, token)
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func (f *fixture) reload(t *testing.T) (model.Product, model.User, model.User) {
	t.Helper()
	var p model.Product
	var buyer, seller model.User
	require.NoError(t, f.db.First(&p, f.product.ID).Error)
	require.NoError(t, f.db.First(&buyer, f.buyer.ID).Error)
	require.NoError(t, f.db.First(&seller, f.seller.ID).Error)
	return p, buyer, seller
}

func (f *fixture) assertNothingPersisted(t *testing.T) {
	t.Helper()
	assert.Zero(t, f.count(t, &model.Order{}))
	assert.Zero(t, f.count(t, &model.Payment{}))
	assert.Zero(t, f.count(t, &model.Address{}))
	assert.Zero(t, f.count(t, &model.Notification{}))
	p, buyer, seller := f.reload(t)
	assert.Equal(t, model.SalesOnDisplay, p.SalesStatus)
	assert.Equal(t, int64(500), buyer.Point)
	assert.Equal(t, int64(0), seller.Point)
}

func (f *fixture) streamTypes(t *testing.T) []string {
	t.Helper()
	msgs, err := f.rdb.XRange(context.Background(), "events", "-", "+").Result()
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fmt.Sprint(m.Values["type"]))
	}
	return out
}

func redirectTarget(t *testing.T, err error) Step {
	t.Helper()
	var re *RedirectError
	require.ErrorAs(t, err, &re)
	return re.To
}

var sel100 = Selections{Quantity: 1, PointsRedeemed: 100, TotalAmount: 900}

func TestLaterStepsBeforeConfirmRedirectToConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SubmitAddress(ctx, f.b, validAddress())
	assert.Equal(t, StepConfirm, redirectTarget(t, err))

	_, err = f.svc.SubmitCardToken(ctx, f.b, "tok_visa")
	assert.Equal(t, StepConfirm, redirectTarget(t, err))

	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.Equal(t, StepConfirm, redirectTarget(t, err))

	assert.Zero(t, f.gw.chargeCount())
	f.assertNothingPersisted(t)
	st, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, Empty{}, st)
}

func TestRedirectsToEarliestMissingStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.BeginPurchase(ctx, f.b, f.product.ID, sel100)
	require.NoError(t, err)

	_, err = f.svc.SubmitCardToken(ctx, f.b, "tok_visa")
	assert.Equal(t, StepAddress, redirectTarget(t, err))
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.Equal(t, StepAddress, redirectTarget(t, err))

	_, err = f.svc.SubmitAddress(ctx, f.b, validAddress())
	require.NoError(t, err)
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.Equal(t, StepPayment, redirectTarget(t, err))

	assert.Zero(t, f.gw.chargeCount())
	f.assertNothingPersisted(t)
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	other := Buyer{UserID: f.buyer.ID, SessionID: "another-login"}
	_, err := f.svc.FinalizeCheckout(ctx, other)
	assert.Equal(t, StepConfirm, redirectTarget(t, err))
}

func TestBeginPurchaseChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.BeginPurchase(ctx, f.b, 999, sel100)
	assert.ErrorIs(t, err, ErrNotFound)

	seller := Buyer{UserID: f.seller.ID, SessionID: "sess-seller"}
	_, err = f.svc.BeginPurchase(ctx, seller, f.product.ID, Selections{Quantity: 1, TotalAmount: 1000})
	assert.ErrorIs(t, err, ErrOwnItem)

	var verr *ValidationError
	_, err = f.svc.BeginPurchase(ctx, f.b, f.product.ID, Selections{Quantity: 1, PointsRedeemed: 100, TotalAmount: 1000})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "total_amount")

	_, err = f.svc.BeginPurchase(ctx, f.b, f.product.ID, Selections{Quantity: 1, PointsRedeemed: 600, TotalAmount: 400})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "point")

	_, err = f.svc.BeginPurchase(ctx, f.b, f.product.ID, Selections{Quantity: 2, TotalAmount: 2000})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "quantity")

	// 数量缺省按 1 件
	st, err := f.svc.BeginPurchase(ctx, f.b, f.product.ID, Selections{TotalAmount: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Selections.Quantity)

	require.NoError(t, f.db.Model(&model.Product{}).Where("id = ?", f.product.ID).Update("sales_status", model.SalesSold).Error)
	_, err = f.svc.BeginPurchase(ctx, f.b, f.product.ID, sel100)
	assert.ErrorIs(t, err, ErrItemUnavailable)
}

func TestSubmitAddressValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.BeginPurchase(ctx, f.b, f.product.ID, sel100)
	require.NoError(t, err)

	addr := validAddress()
	addr.PostalCode = "1500"
	addr.Tel = "abc"
	addr.LastName = "  "

	_, err = f.svc.SubmitAddress(ctx, f.b, addr)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "postal_code")
	assert.Contains(t, verr.Fields, "tel")
	assert.Contains(t, verr.Fields, "last_name")

	st, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StageItemSelected, st.Stage())
}

func TestResubmittingAddressDropsCardToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	_, err := f.svc.SubmitAddress(ctx, f.b, validAddress())
	require.NoError(t, err)

	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.Equal(t, StepPayment, redirectTarget(t, err))
}

func TestSubmitCardTokenMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.BeginPurchase(ctx, f.b, f.product.ID, sel100)
	require.NoError(t, err)
	_, err = f.svc.SubmitAddress(ctx, f.b, validAddress())
	require.NoError(t, err)

	_, err = f.svc.SubmitCardToken(ctx, f.b, "  ")
	assert.ErrorIs(t, err, ErrTokenMissing)

	st, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StageAddressSet, st.Stage())
}

func TestFinalizeSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	receipt, err := f.svc.FinalizeCheckout(ctx, f.b)
	require.NoError(t, err)
	assert.Equal(t, int64(900), receipt.Price)
	assert.Equal(t, "ch_test_1", receipt.ChargeID)

	require.Equal(t, 1, f.gw.chargeCount())
	req := f.gw.charges[0]
	assert.Equal(t, int64(900), req.Amount)
	assert.Equal(t, "jpy", req.Currency)
	assert.Equal(t, "tok_visa", req.Source)
	assert.Equal(t, "FreeMa", req.Description)

	assert.Equal(t, int64(1), f.count(t, &model.Order{}))
	assert.Equal(t, int64(1), f.count(t, &model.Payment{}))
	assert.Equal(t, int64(1), f.count(t, &model.Address{}))

	var o model.Order
	require.NoError(t, f.db.First(&o, receipt.OrderID).Error)
	assert.Equal(t, f.product.ID, o.ProductID)
	assert.Equal(t, f.buyer.ID, o.PurchaserID)
	assert.Equal(t, int64(900), o.Price)
	assert.Equal(t, model.DeliveryBeforeShipping, o.DeliveryStatus)

	var pay model.Payment
	require.NoError(t, f.db.First(&pay, o.PaymentID).Error)
	assert.Equal(t, "ch_test_1", pay.ChargeID)

	var addr model.Address
	require.NoError(t, f.db.First(&addr, o.AddressID).Error)
	assert.Equal(t, "150-0001", addr.PostalCode)

	p, buyer, seller := f.reload(t)
	assert.Equal(t, model.SalesSold, p.SalesStatus)
	assert.Equal(t, int64(400), buyer.Point)
	assert.Equal(t, int64(900), seller.Point)

	var notes []model.Notification
	require.NoError(t, f.db.Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, f.seller.ID, notes[0].UserID)
	assert.Equal(t, o.ID, notes[0].OrderID)
	assert.True(t, notes[0].IsAction)

	st, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, Empty{}, st)
	assert.False(t, f.mr.Exists(rediskey.CheckoutSessionKey(f.b.SessionID)))
	assert.False(t, f.mr.Exists(rediskey.ProductLockKey(f.product.ID)))

	assert.Equal(t, []string{queue.EventNotificationCreated, queue.EventOrderSettled}, f.streamTypes(t))

	// 会话已清空，再次结算回到第一步，不会重复扣款
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.Equal(t, StepConfirm, redirectTarget(t, err))
	assert.Equal(t, 1, f.gw.chargeCount())
}

func TestFinalizeDeclinedKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_declined")
	before, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)

	f.gw.chargeErr = fmt.Errorf("%w: insufficient funds", payment.ErrDeclined)
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.ErrorIs(t, err, ErrPaymentDeclined)

	f.assertNothingPersisted(t)
	after, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, f.mr.Exists(rediskey.ChargeHoldKey(f.buyer.ID)))
	assert.Empty(t, f.streamTypes(t))

	// 直接从卡 token 这一步重试即可
	f.gw.chargeErr = nil
	_, err = f.svc.SubmitCardToken(ctx, f.b, "tok_visa")
	require.NoError(t, err)
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	require.NoError(t, err)
	assert.Equal(t, 2, f.gw.chargeCount())
}

func TestConcurrentFinalizeOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := model.User{Name: "buyer2", Point: 0}
	require.NoError(t, f.db.Create(&other).Error)
	b2 := Buyer{UserID: other.ID, SessionID: "sess-buyer2"}

	f.walk(t, f.b, sel100, "tok_a")
	f.walk(t, b2, Selections{Quantity: 1, TotalAmount: 1000}, "tok_b")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.gw.onCharge = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	var (
		wg      sync.WaitGroup
		firstRc *Receipt
		first   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstRc, first = f.svc.FinalizeCheckout(ctx, f.b)
	}()

	<-entered
	_, second := f.svc.FinalizeCheckout(ctx, b2)
	close(release)
	wg.Wait()

	require.NoError(t, first)
	require.NotNil(t, firstRc)
	assert.ErrorIs(t, second, ErrConflict)
	assert.Equal(t, 1, f.gw.chargeCount())
	assert.Equal(t, int64(1), f.count(t, &model.Order{}))

	// 输家的会话还在，但商品已售出，再试不会扣款
	_, err := f.svc.FinalizeCheckout(ctx, b2)
	assert.ErrorIs(t, err, ErrItemUnavailable)
	assert.Equal(t, 1, f.gw.chargeCount())
}

func TestSettlementFailureAfterChargeIsRefunded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	// 绕过商品锁的写入：扣款期间商品被改成已售
	f.gw.onCharge = func() {
		require.NoError(t, f.db.Model(&model.Product{}).Where("id = ?", f.product.ID).Update("sales_status", model.SalesSold).Error)
	}

	_, err := f.svc.FinalizeCheckout(ctx, f.b)
	var serr *SettlementError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Refunded)
	assert.Equal(t, "ch_test_1", serr.ChargeID)
	assert.NotErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, []string{"ch_test_1"}, f.gw.refunds)
	assert.False(t, f.mr.Exists(rediskey.PendingRefundKey("ch_test_1")))

	assert.Zero(t, f.count(t, &model.Order{}))
	assert.Zero(t, f.count(t, &model.Payment{}))
	assert.Zero(t, f.count(t, &model.Notification{}))
	_, buyer, seller := f.reload(t)
	assert.Equal(t, int64(500), buyer.Point)
	assert.Equal(t, int64(0), seller.Point)

	st, err := f.store.Load(ctx, f.b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StageTokenSet, st.Stage())
}

func TestSettlementFailureWithFailedRefundEmitsEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	f.gw.refundErr = errors.New("gateway down")
	f.gw.onCharge = func() {
		require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", f.buyer.ID).Update("point", 0).Error)
	}

	_, err := f.svc.FinalizeCheckout(ctx, f.b)
	var serr *SettlementError
	require.ErrorAs(t, err, &serr)
	assert.False(t, serr.Refunded)
	assert.ErrorIs(t, err, errInsufficientPoint)
	assert.Equal(t, []string{queue.EventChargeUnrecorded}, f.streamTypes(t))

	p, _, _ := f.reload(t)
	assert.Equal(t, model.SalesOnDisplay, p.SalesStatus)

	// 欠款记录独立于事件流，relay 删掉 stream 条目后仍在
	pending, found, err := rediskey.GetPendingRefund(ctx, f.rdb, serr.ChargeID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, f.buyer.ID, pending.UserID)
	assert.Equal(t, f.product.ID, pending.ProductID)
	assert.Equal(t, int64(900), pending.Amount)
	f.mr.Del("events")
	assert.True(t, f.mr.Exists(rediskey.PendingRefundKey(serr.ChargeID)))

	// 消费者侧重试退款：仍失败时记录保留
	ev := queue.NewEvent(queue.EventChargeUnrecorded, f.buyer.ID)
	ev.ChargeID = serr.ChargeID
	r := NewReconciler(f.rdb, f.gw)
	require.Error(t, r.Handle(ctx, ev))
	assert.True(t, f.mr.Exists(rediskey.PendingRefundKey(serr.ChargeID)))

	f.gw.refundErr = nil
	require.NoError(t, r.Handle(ctx, ev))
	require.NoError(t, r.Handle(ctx, ev))
	assert.Equal(t, []string{serr.ChargeID}, f.gw.refunds)

	_, found, err = rediskey.GetPendingRefund(ctx, f.rdb, serr.ChargeID)
	require.NoError(t, err)
	assert.False(t, found)
	list, err := rediskey.ListPendingRefunds(ctx, f.rdb)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFinalizeSurvivesRequestCancelAfterCharge(t *testing.T) {
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	// 扣款返回前客户端断开
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.onCharge = cancel

	receipt, err := f.svc.FinalizeCheckout(ctx, f.b)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "ch_test_1", receipt.ChargeID)
	assert.Error(t, ctx.Err())

	assert.Empty(t, f.gw.refunds)
	assert.Equal(t, int64(1), f.count(t, &model.Order{}))
	p, buyer, seller := f.reload(t)
	assert.Equal(t, model.SalesSold, p.SalesStatus)
	assert.Equal(t, int64(400), buyer.Point)
	assert.Equal(t, int64(900), seller.Point)

	assert.False(t, f.mr.Exists(rediskey.CheckoutSessionKey(f.b.SessionID)))
	assert.False(t, f.mr.Exists(rediskey.ProductLockKey(f.product.ID)))
	assert.False(t, f.mr.Exists(rediskey.PendingRefundKey("ch_test_1")))
	assert.Equal(t, []string{queue.EventNotificationCreated, queue.EventOrderSettled}, f.streamTypes(t))
}

func TestFinalizeUnknownOutcomeHoldsFurtherCharges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	f.gw.chargeErr = fmt.Errorf("%w: context deadline exceeded", payment.ErrTransient)
	_, err := f.svc.FinalizeCheckout(ctx, f.b)
	assert.ErrorIs(t, err, ErrChargeUnknown)
	assert.NotErrorIs(t, err, ErrPaymentDeclined)
	f.assertNothingPersisted(t)

	hold, found, err := rediskey.GetChargeHold(ctx, f.rdb, f.buyer.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, f.product.ID, hold.ProductID)
	assert.Equal(t, int64(900), hold.Amount)
	assert.Equal(t, []string{queue.EventChargeUnknown}, f.streamTypes(t))

	f.gw.chargeErr = nil
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.ErrorIs(t, err, ErrReconciliationRequired)
	assert.Equal(t, 1, f.gw.chargeCount())

	// 人工对账解除后可以继续
	_, err = rediskey.ClearChargeHold(ctx, f.rdb, f.buyer.ID)
	require.NoError(t, err)
	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	require.NoError(t, err)
	assert.Equal(t, 2, f.gw.chargeCount())
}

func TestTimeoutAsDeclineOption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.opts.TimeoutAsDecline = true
	f.walk(t, f.b, sel100, "tok_visa")

	f.gw.chargeErr = payment.ErrTransient
	_, err := f.svc.FinalizeCheckout(ctx, f.b)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.False(t, f.mr.Exists(rediskey.ChargeHoldKey(f.buyer.ID)))
}

func TestFinalizeRedirectsWhenSelectionsAreStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	// 第 1 步之后积分被用掉了
	require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", f.buyer.ID).Update("point", 50).Error)

	_, err := f.svc.FinalizeCheckout(ctx, f.b)
	assert.Equal(t, StepConfirm, redirectTarget(t, err))
	assert.Zero(t, f.gw.chargeCount())
}

func TestFinalizeWhileLockHeldDoesNotCharge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.walk(t, f.b, sel100, "tok_visa")

	ok, err := rediskey.AcquireProductLock(ctx, f.rdb, f.product.ID, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.FinalizeCheckout(ctx, f.b)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, f.gw.chargeCount())
	// 别人的锁不会被误删
	assert.True(t, f.mr.Exists(rediskey.ProductLockKey(f.product.ID)))
}

func TestSellerShare(t *testing.T) {
	rate := decimal.RequireFromString("0.9")
	assert.Equal(t, int64(900), SellerShare(1000, rate))
	assert.Equal(t, int64(904), SellerShare(1005, rate))
	assert.Equal(t, int64(8), SellerShare(9, rate))
	assert.Equal(t, int64(0), SellerShare(0, rate))
}
