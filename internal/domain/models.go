package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode,omitempty"`
	Description  string          `json:"description,omitempty"`
	CategoryID   string          `json:"category_id,omitempty"`
	UnitID       string          `json:"unit_id,omitempty"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	MaximumStock decimal.Decimal `json:"maximum_stock"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	Value        decimal.Decimal `json:"value"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Revalue recomputes Value from the current stock and cost.
func (i *InventoryItem) Revalue() {
	i.Value = i.CurrentStock.Mul(i.CostPerUnit)
}

func (i InventoryItem) LowStock() bool {
	return i.CurrentStock.LessThanOrEqual(i.ReorderPoint)
}

type ItemCreateRequest struct {
	Name         string           `json:"name"`
	SKU          string           `json:"sku"`
	Barcode      string           `json:"barcode"`
	Description  string           `json:"description"`
	CategoryID   string           `json:"category_id"`
	UnitID       string           `json:"unit_id"`
	MinimumStock decimal.Decimal  `json:"minimum_stock"`
	ReorderPoint decimal.Decimal  `json:"reorder_point"`
	MaximumStock decimal.Decimal  `json:"maximum_stock"`
	CostPerUnit  decimal.Decimal  `json:"cost_per_unit"`
	InitialStock *decimal.Decimal `json:"initial_stock,omitempty"`
}

type ItemUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	SKU          *string          `json:"sku,omitempty"`
	Barcode      *string          `json:"barcode,omitempty"`
	Description  *string          `json:"description,omitempty"`
	CategoryID   *string          `json:"category_id,omitempty"`
	UnitID       *string          `json:"unit_id,omitempty"`
	MinimumStock *decimal.Decimal `json:"minimum_stock,omitempty"`
	ReorderPoint *decimal.Decimal `json:"reorder_point,omitempty"`
	MaximumStock *decimal.Decimal `json:"maximum_stock,omitempty"`
	CostPerUnit  *decimal.Decimal `json:"cost_per_unit,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

type ItemFilter struct {
	CategoryID      string
	Search          string
	LowStock        bool
	IncludeInactive bool
	Limit           int
}

type ItemSummary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	CategoryID   string          `json:"category_id,omitempty"`
	UnitID       string          `json:"unit_id,omitempty"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	Value        decimal.Decimal `json:"value"`
	LowStock     bool            `json:"low_stock"`
	Active       bool            `json:"active"`
}

type InventoryValuation struct {
	ItemCount     int             `json:"item_count"`
	LowStockCount int             `json:"low_stock_count"`
	TotalValue    decimal.Decimal `json:"total_value"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

type InventoryTransaction struct {
	ID            string            `json:"id"`
	ItemID        string            `json:"item_id"`
	Type          TransactionType   `json:"transaction_type"`
	Direction     Direction         `json:"direction"`
	Quantity      decimal.Decimal   `json:"quantity"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	ReferenceType ReferenceType     `json:"reference_type,omitempty"`
	PreviousStock decimal.Decimal   `json:"previous_stock"`
	NewStock      decimal.Decimal   `json:"new_stock"`
	UnitCost      decimal.Decimal   `json:"unit_cost"`
	ValueChange   decimal.Decimal   `json:"value_change"`
	// CostSupplied marks a unit cost given by the caller; it replaces the
	// item's cost when the transaction is applied.
	CostSupplied  bool              `json:"cost_supplied"`
	Status        TransactionStatus `json:"status"`
	Notes         string            `json:"notes,omitempty"`
	CreatedBy     string            `json:"created_by"`
	ReviewedBy    string            `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SignedQuantity is the stock delta implied by the transaction.
func (t InventoryTransaction) SignedQuantity() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

type TransactionCreateRequest struct {
	ItemID   string           `json:"item_id"`
	Type     TransactionType  `json:"transaction_type"`
	Quantity decimal.Decimal  `json:"quantity"`
	UnitCost *decimal.Decimal `json:"unit_cost,omitempty"`
	Notes    string           `json:"notes"`

	// Set by the loss and count workflows only.
	ReferenceID   string        `json:"-"`
	ReferenceType ReferenceType `json:"-"`
}

type TransactionFilter struct {
	ItemID string
	Type   TransactionType
	Status TransactionStatus
	Limit  int
}

type InventoryLoss struct {
	ID               string            `json:"id"`
	ItemID           string            `json:"item_id"`
	TransactionID    string            `json:"transaction_id"`
	Quantity         decimal.Decimal   `json:"quantity"`
	Reason           LossReason        `json:"reason"`
	Notes            string            `json:"notes,omitempty"`
	Value            decimal.Decimal   `json:"value"`
	Status           TransactionStatus `json:"status"`
	ReportedBy       string            `json:"reported_by"`
	ReviewedBy       string            `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time        `json:"reviewed_at,omitempty"`
	FinancialEntryID string            `json:"financial_entry_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type LossReportRequest struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   LossReason      `json:"reason"`
	Notes    string          `json:"notes"`
}

type LossFilter struct {
	ItemID string
	Status TransactionStatus
	Reason LossReason
	Limit  int
}

type CountLine struct {
	ItemID             string          `json:"item_id"`
	ItemName           string          `json:"item_name"`
	ExpectedQuantity   decimal.Decimal `json:"expected_quantity"`
	ActualQuantity     decimal.Decimal `json:"actual_quantity"`
	Variance           decimal.Decimal `json:"variance"`
	VariancePercentage decimal.Decimal `json:"variance_percentage"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	ValueVariance      decimal.Decimal `json:"value_variance"`
	TransactionID      string          `json:"transaction_id,omitempty"`
}

type InventoryCount struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	CountDate          time.Time       `json:"count_date"`
	Notes              string          `json:"notes,omitempty"`
	Status             CountStatus     `json:"status"`
	Lines              []CountLine     `json:"lines"`
	TotalExpected      decimal.Decimal `json:"total_expected"`
	TotalActual        decimal.Decimal `json:"total_actual"`
	TotalVariance      decimal.Decimal `json:"total_variance"`
	TotalValueVariance decimal.Decimal `json:"total_value_variance"`
	CreatedBy          string          `json:"created_by"`
	SubmittedBy        string          `json:"submitted_by,omitempty"`
	SubmittedAt        *time.Time      `json:"submitted_at,omitempty"`
	ReviewedBy         string          `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time      `json:"reviewed_at,omitempty"`
	FinancialEntryID   string          `json:"financial_entry_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type CountLineRequest struct {
	ItemID         string          `json:"item_id"`
	ActualQuantity decimal.Decimal `json:"actual_quantity"`
}

type CountCreateRequest struct {
	Name      string             `json:"name"`
	CountDate string             `json:"count_date"`
	Notes     string             `json:"notes"`
	Lines     []CountLineRequest `json:"lines"`
}

type CountFilter struct {
	Status CountStatus
	Limit  int
}

type FinancialEntry struct {
	ID            string             `json:"id"`
	EntryType     FinancialEntryType `json:"entry_type"`
	ReferenceID   string             `json:"reference_id"`
	ReferenceType ReferenceType      `json:"reference_type"`
	Amount        decimal.Decimal    `json:"amount"`
	Description   string             `json:"description"`
	IsPosted      bool               `json:"is_posted"`
	PostedAt      *time.Time         `json:"posted_at,omitempty"`
	Attempts      int                `json:"attempts"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type FinancialPostRequest struct {
	EntryType     FinancialEntryType
	ReferenceID   string
	ReferenceType ReferenceType
	Amount        decimal.Decimal
	Description   string
}

type FinancialEntryFilter struct {
	UnpostedOnly  bool
	ReferenceType ReferenceType
	Limit         int
}

type FinancialRetryResponse struct {
	Attempted int `json:"attempted"`
	Posted    int `json:"posted"`
}

// ReorderAlert is emitted when an applied transaction leaves an item at or
// below its reorder point.
type ReorderAlert struct {
	ItemID        string          `json:"item_id"`
	ItemName      string          `json:"item_name"`
	SKU           string          `json:"sku"`
	CurrentStock  decimal.Decimal `json:"current_stock"`
	ReorderPoint  decimal.Decimal `json:"reorder_point"`
	TransactionID string          `json:"transaction_id"`
	At            time.Time       `json:"at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
