package domain

// TransactionType is the closed set of ledger movements.
type TransactionType string

const (
	TxPurchase   TransactionType = "PURCHASE"
	TxSale       TransactionType = "SALE"
	TxAdjustment TransactionType = "ADJUSTMENT"
	TxTransfer   TransactionType = "TRANSFER"
	TxReturn     TransactionType = "RETURN"
	TxLoss       TransactionType = "LOSS"
	TxProduction TransactionType = "PRODUCTION"
	TxInitial    TransactionType = "INITIAL"
)

var transactionTypes = []TransactionType{
	TxPurchase, TxSale, TxAdjustment, TxTransfer, TxReturn, TxLoss, TxProduction, TxInitial,
}

func TransactionTypes() []TransactionType {
	out := make([]TransactionType, len(transactionTypes))
	copy(out, transactionTypes)
	return out
}

func (t TransactionType) Valid() bool {
	for _, known := range transactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

type TransactionStatus string

const (
	TxStatusPending  TransactionStatus = "PENDING"
	TxStatusApproved TransactionStatus = "APPROVED"
	TxStatusRejected TransactionStatus = "REJECTED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusApproved, TxStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TxStatusApproved || s == TxStatusRejected
}

// Direction is the effect of a transaction on the item's stock.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ReferenceType names the workflow record a transaction or financial entry
// originates from.
type ReferenceType string

const (
	RefNone  ReferenceType = ""
	RefLoss  ReferenceType = "LOSS"
	RefCount ReferenceType = "COUNT"
)

type LossReason string

const (
	LossSpoilage            LossReason = "SPOILAGE"
	LossExpired             LossReason = "EXPIRED"
	LossDamaged             LossReason = "DAMAGED"
	LossTheft               LossReason = "THEFT"
	LossPreparationWaste    LossReason = "PREPARATION_WASTE"
	LossCustomerReturnWaste LossReason = "CUSTOMER_RETURN_WASTE"
	LossOther               LossReason = "OTHER"
)

// LossReasonInfo is the listing shape of the reason taxonomy.
type LossReasonInfo struct {
	Code  LossReason `json:"code"`
	Label string     `json:"label"`
}

var lossReasons = []LossReasonInfo{
	{Code: LossSpoilage, Label: "Spoilage"},
	{Code: LossExpired, Label: "Expired"},
	{Code: LossDamaged, Label: "Damaged"},
	{Code: LossTheft, Label: "Theft"},
	{Code: LossPreparationWaste, Label: "Preparation waste"},
	{Code: LossCustomerReturnWaste, Label: "Customer return waste"},
	{Code: LossOther, Label: "Other"},
}

func LossReasons() []LossReasonInfo {
	out := make([]LossReasonInfo, len(lossReasons))
	copy(out, lossReasons)
	return out
}

func (r LossReason) Valid() bool {
	for _, known := range lossReasons {
		if r == known.Code {
			return true
		}
	}
	return false
}

type CountStatus string

const (
	CountStatusDraft     CountStatus = "DRAFT"
	CountStatusSubmitted CountStatus = "SUBMITTED"
	CountStatusApproved  CountStatus = "APPROVED"
	CountStatusRejected  CountStatus = "REJECTED"
)

func (s CountStatus) Valid() bool {
	switch s {
	case CountStatusDraft, CountStatusSubmitted, CountStatusApproved, CountStatusRejected:
		return true
	default:
		return false
	}
}

type FinancialEntryType string

const (
	EntryInventoryLoss       FinancialEntryType = "INVENTORY_LOSS"
	EntryInventoryAdjustment FinancialEntryType = "INVENTORY_ADJUSTMENT"
)

const (
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// SystemActor is recorded as reviewer of auto-approved transactions and as
// actor of operations without an authenticated caller.
const SystemActor = "system"
