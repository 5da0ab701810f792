package orders

type Status string

const (
	StatusPending          Status = "pending"
	StatusConfirmed        Status = "confirmed"
	StatusPicking          Status = "picking"
	StatusPicked           Status = "picked"
	StatusReadyForDelivery Status = "ready_for_delivery"
	StatusOutForDelivery   Status = "out_for_delivery"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
	StatusRefunded         Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:          {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:        {StatusPicking: true, StatusCancelled: true},
	StatusPicking:          {StatusPicking: true, StatusPicked: true, StatusConfirmed: true, StatusCancelled: true},
	StatusPicked:           {StatusReadyForDelivery: true, StatusCancelled: true},
	StatusReadyForDelivery: {StatusOutForDelivery: true, StatusPicked: true, StatusCancelled: true},
	StatusOutForDelivery:   {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:        {StatusRefunded: true},
	StatusCancelled:        {StatusRefunded: true},
	StatusRefunded:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

type PickingStatus string

const (
	PickPending     PickingStatus = "pending"
	PickAssigned    PickingStatus = "assigned"
	PickPicking     PickingStatus = "picking"
	PickPicked      PickingStatus = "picked"
	PickUnavailable PickingStatus = "unavailable"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentCard, PaymentUPI, PaymentWallet:
		return true
	}
	return false
}
