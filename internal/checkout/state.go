// Package checkout 实现四步购买流程：确认 -> 收货地址 -> 卡 token -> 结算。
//
// 会话状态是显式的四种类型（Empty / ItemSelected / AddressSet / TokenSet），
// 每种只携带该阶段已经成立的字段；缺少前置阶段时回退到最早缺失的一步。
package checkout

// Step 购买流程中的页面/请求。
type Step int

const (
	StepConfirm Step = iota + 1 // BeginPurchase
	StepAddress                 // SubmitAddress
	StepPayment                 // SubmitCardToken
	StepFinal                   // FinalizeCheckout
)

func (s Step) String() string {
	switch s {
	case StepConfirm:
		return "confirm"
	case StepAddress:
		return "address"
	case StepPayment:
		return "payment"
	case StepFinal:
		return "final"
	}
	return "unknown"
}

// Stage 会话所处阶段。
type Stage int

const (
	StageEmpty Stage = iota
	StageItemSelected
	StageAddressSet
	StageTokenSet
)

func (s Stage) String() string {
	switch s {
	case StageEmpty:
		return "empty"
	case StageItemSelected:
		return "item_selected"
	case StageAddressSet:
		return "address_set"
	case StageTokenSet:
		return "token_set"
	}
	return "unknown"
}

// Selections 确认页提交的购买选项。金额单位：日元。
type Selections struct {
	Quantity       int   `json:"quantity" validate:"eq=1"`
	PointsRedeemed int64 `json:"point" validate:"gte=0"`
	TotalAmount    int64 `json:"total_amount" validate:"gt=0"`
}

// ShippingAddress 收货信息，结算时快照成 model.Address。
type ShippingAddress struct {
	FirstName     string `json:"first_name" validate:"required,max=32"`
	LastName      string `json:"last_name" validate:"required,max=32"`
	FirstNameKana string `json:"first_name_kana" validate:"required,max=32"`
	LastNameKana  string `json:"last_name_kana" validate:"required,max=32"`
	PostalCode    string `json:"postal_code" validate:"required,postal_jp"`
	Prefecture    string `json:"prefecture" validate:"required,max=16"`
	Address       string `json:"address" validate:"required,max=255"`
	Tel           string `json:"tel" validate:"required,tel_jp"`
}

// State 会话状态的闭合集合。
type State interface {
	Stage() Stage
}

type Empty struct{}

type ItemSelected struct {
	ItemID     uint
	Selections Selections
}

type AddressSet struct {
	ItemSelected
	Address ShippingAddress
}

type TokenSet struct {
	AddressSet
	CardToken string
}

func (Empty) Stage() Stage        { return StageEmpty }
func (ItemSelected) Stage() Stage { return StageItemSelected }
func (AddressSet) Stage() Stage   { return StageAddressSet }
func (TokenSet) Stage() Stage     { return StageTokenSet }

// WithAddress 进入 AddressSet；之后的字段（卡 token）不会被带过去。
func (s ItemSelected) WithAddress(a ShippingAddress) AddressSet {
	return AddressSet{ItemSelected: s, Address: a}
}

func (s AddressSet) WithCardToken(token string) TokenSet {
	return TokenSet{AddressSet: s, CardToken: token}
}

func itemOf(st State) (ItemSelected, bool) {
	switch s := st.(type) {
	case ItemSelected:
		return s, true
	case AddressSet:
		return s.ItemSelected, true
	case TokenSet:
		return s.ItemSelected, true
	}
	return ItemSelected{}, false
}

func addressOf(st State) (AddressSet, bool) {
	switch s := st.(type) {
	case AddressSet:
		return s, true
	case TokenSet:
		return s.AddressSet, true
	}
	return AddressSet{}, false
}

func tokenOf(st State) (TokenSet, bool) {
	s, ok := st.(TokenSet)
	return s, ok
}

// NextStep 当前状态下允许进入的最远一步。
func NextStep(st State) Step {
	if st == nil {
		return StepConfirm
	}
	switch st.Stage() {
	case StageItemSelected:
		return StepAddress
	case StageAddressSet:
		return StepPayment
	case StageTokenSet:
		return StepFinal
	}
	return StepConfirm
}

// guard 请求 want 这一步时检查前置条件，不满足则回退到最早缺失的一步。
func guard(st State, want Step) error {
	if next := NextStep(st); next < want {
		return &RedirectError{To: next}
	}
	return nil
}

// record 是会话在 Redis 中的存储形式。
type record struct {
	Stage      Stage            `json:"stage"`
	ItemID     uint             `json:"item_id,omitempty"`
	Selections *Selections      `json:"selections,omitempty"`
	Address    *ShippingAddress `json:"address,omitempty"`
	CardToken  string           `json:"card_token,omitempty"`
}

func encodeState(st State) record {
	switch s := st.(type) {
	case ItemSelected:
		sel := s.Selections
		return record{Stage: StageItemSelected, ItemID: s.ItemID, Selections: &sel}
	case AddressSet:
		sel, addr := s.Selections, s.Address
		return record{Stage: StageAddressSet, ItemID: s.ItemID, Selections: &sel, Address: &addr}
	case TokenSet:
		sel, addr := s.Selections, s.Address
		return record{Stage: StageTokenSet, ItemID: s.ItemID, Selections: &sel, Address: &addr, CardToken: s.CardToken}
	}
	return record{Stage: StageEmpty}
}

// decodeState 阶段与字段不一致的记录一律视为 Empty，不猜测缺失字段。
func decodeState(r record) State {
	if r.Stage == StageEmpty || r.ItemID == 0 || r.Selections == nil {
		return Empty{}
	}
	item := ItemSelected{ItemID: r.ItemID, Selections: *r.Selections}
	switch r.Stage {
	case StageItemSelected:
		return item
	case StageAddressSet:
		if r.Address == nil {
			return Empty{}
		}
		return item.WithAddress(*r.Address)
	case StageTokenSet:
		if r.Address == nil || r.CardToken == "" {
			return Empty{}
		}
		return item.WithAddress(*r.Address).WithCardToken(r.CardToken)
	}
	return Empty{}
}
