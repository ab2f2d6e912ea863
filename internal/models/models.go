package models

import "time"

type Status string

const (
	StatusInit                      Status = "init"
	StatusAwaitingModeSelection     Status = "awaiting_mode_selection"
	StatusAwaitingModelGender       Status = "awaiting_model_gender"
	StatusAwaitingTemplateSelection Status = "awaiting_template_selection"
	StatusAwaitingDescription       Status = "awaiting_description"
	StatusAwaitingProductName       Status = "awaiting_product_name"
	StatusAwaitingConfirmation      Status = "awaiting_confirmation"
	StatusInQueue                   Status = "inqueue"
	StatusProcessing                Status = "processing"
	StatusDone                      Status = "done"
	StatusError                     Status = "error"
	StatusCancelled                 Status = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	}
	return false
}

type Service string

const (
	ServicePhotoshoot Service = "photoshoot"
	ServiceModeling   Service = "modeling"
)

type Mode string

const (
	ModeTemplate  Mode = "template"
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

func ParseService(v string) (Service, bool) {
	switch s := Service(v); s {
	case ServicePhotoshoot, ServiceModeling:
		return s, true
	}
	return "", false
}

func ParseMode(v string) (Mode, bool) {
	switch m := Mode(v); m {
	case ModeTemplate, ModeManual, ModeAutomatic:
		return m, true
	}
	return "", false
}

func ParseGender(v string) (Gender, bool) {
	switch g := Gender(v); g {
	case GenderMale, GenderFemale:
		return g, true
	}
	return "", false
}

type User struct {
	ID         int64
	ChatID     int64
	Username   string
	FirstName  string
	LastName   string
	Credits    int
	Paid       bool
	ReferredBy *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Generation struct {
	ID          string
	ChatID      int64
	PhotoFileID string
	IsPaidUser  bool
	Service     Service
	Mode        Mode
	ModelGender Gender
	TemplateID  string
	ProductName string
	Description string
	InputURL    string
	Prompt      string
	ModelName   string
	JobID       string
	Status      Status
	ResultURL   string
	Error       string
	// Cost is set once, by the debit that queued the record.
	Cost        *int
	Refunded    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// CostKey is the per-mode key of the service cost table.
func (g *Generation) CostKey() string {
	if g.Service == ServiceModeling || g.Mode == "" {
		return string(ModeTemplate)
	}
	return string(g.Mode)
}

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID            string
	ChatID        int64
	Amount        int
	PackageCoins  int
	Status        PaymentStatus
	Authority     string
	PaymentLink   string
	TransactionID string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
