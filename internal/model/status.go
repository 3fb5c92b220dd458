package model

// SalesStatus 商品在售状态，只允许 on_display -> sold。
type SalesStatus string

const (
	SalesOnDisplay SalesStatus = "on_display"
	SalesSold      SalesStatus = "sold"
)

// Valid 判断是否为已知状态。
func (s SalesStatus) Valid() bool {
	switch s {
	case SalesOnDisplay, SalesSold:
		return true
	}
	return false
}

// CanTransitionTo 在售状态转移表。
func (s SalesStatus) CanTransitionTo(next SalesStatus) bool {
	switch s {
	case SalesOnDisplay:
		return next == SalesSold
	case SalesSold:
		return false
	}
	return false
}

func (s SalesStatus) String() string { return string(s) }

// DeliveryStatus 订单配送状态，只能前进。
type DeliveryStatus string

const (
	DeliveryBeforeShipping DeliveryStatus = "before_shipping"
	DeliveryShipped        DeliveryStatus = "shipped"
	DeliveryDelivered      DeliveryStatus = "delivered"
)

// Next 返回下一个配送状态；delivered 为终态，ok=false。
func (s DeliveryStatus) Next() (DeliveryStatus, bool) {
	switch s {
	case DeliveryBeforeShipping:
		return DeliveryShipped, true
	case DeliveryShipped:
		return DeliveryDelivered, true
	}
	return s, false
}

// IsTerminal delivered 之后不再变化。
func (s DeliveryStatus) IsTerminal() bool { return s == DeliveryDelivered }

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryBeforeShipping, DeliveryShipped, DeliveryDelivered:
		return true
	}
	return false
}

func (s DeliveryStatus) String() string { return string(s) }
