package trade

import "github.com/market-engine/market-engine/internal/apperr"

var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferCreated:   {OfferPublished, OfferClosed},
	OfferPublished: {OfferClosed},
	OfferClosed:    {},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:        {PaymentLocked, OrderCancelled},
	PaymentLocked:       {ConsentGrantedOrder, SettlementCancelled},
	ConsentGrantedOrder: {DeliveryReadyOrder, ConsentRevokedOrder},
	DeliveryReadyOrder:  {DeliveryCompleted, ConsentRevokedOrder},
	DeliveryCompleted:   {SettlementCompleted},
	SettlementCompleted: {},
	OrderCancelled:      {},
	SettlementCancelled: {},
	ConsentRevokedOrder: {SettlementCancelled},
}

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryReady:    {DeliveryComplete, DeliveryRevoked},
	DeliveryComplete: {},
	DeliveryRevoked:  {},
}

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementLocked:   {SettlementReleased, SettlementRefunded},
	SettlementReleased: {},
	SettlementRefunded: {},
}

// CanTransitionOffer reports whether an offer may move from one status
// to another.
func CanTransitionOffer(from, to OfferStatus) bool {
	for _, allowed := range offerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func CanTransitionOrder(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func CanTransitionDelivery(from, to DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func CanTransitionSettlement(from, to SettlementStatus) bool {
	for _, allowed := range settlementTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AssertOfferTransition returns a conflict error when the move is not in
// the offer graph.
func AssertOfferTransition(from, to OfferStatus) error {
	if !CanTransitionOffer(from, to) {
		return apperr.Conflict("invalid offer transition: %s -> %s", from, to)
	}
	return nil
}

func AssertOrderTransition(from, to OrderStatus) error {
	if !CanTransitionOrder(from, to) {
		return apperr.Conflict("invalid order transition: %s -> %s", from, to)
	}
	return nil
}

func AssertDeliveryTransition(from, to DeliveryStatus) error {
	if !CanTransitionDelivery(from, to) {
		return apperr.Conflict("invalid delivery transition: %s -> %s", from, to)
	}
	return nil
}

func AssertSettlementTransition(from, to SettlementStatus) error {
	if !CanTransitionSettlement(from, to) {
		return apperr.Conflict("invalid settlement transition: %s -> %s", from, to)
	}
	return nil
}
