// Package trade holds the core trade entities: Offer, Order, Consent,
// Delivery, Settlement. Status values are part of the persisted wire
// format and must stay stable.
package trade

import "time"

// AssetType classifies what an offer sells.
type AssetType string

const (
	AssetData    AssetType = "data"
	AssetAPI     AssetType = "api"
	AssetService AssetType = "service"
)

// DeliveryType is how the asset reaches the buyer.
type DeliveryType string

const (
	DeliveryDownload DeliveryType = "download"
	DeliveryAPI      DeliveryType = "api"
	DeliveryService  DeliveryType = "service"
)

type OfferStatus string

const (
	OfferCreated   OfferStatus = "offer_created"
	OfferPublished OfferStatus = "offer_published"
	OfferClosed    OfferStatus = "offer_closed"
)

type OrderStatus string

const (
	OrderCreated        OrderStatus = "order_created"
	PaymentLocked       OrderStatus = "payment_locked"
	ConsentGrantedOrder OrderStatus = "consent_granted"
	DeliveryReadyOrder  OrderStatus = "delivery_ready"
	DeliveryCompleted   OrderStatus = "delivery_completed"
	SettlementCompleted OrderStatus = "settlement_completed"
	OrderCancelled      OrderStatus = "order_cancelled"
	SettlementCancelled OrderStatus = "settlement_cancelled"
	ConsentRevokedOrder OrderStatus = "consent_revoked"
)

type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "consent_granted"
	ConsentRevoked ConsentStatus = "consent_revoked"
)

type DeliveryStatus string

const (
	DeliveryReady    DeliveryStatus = "delivery_ready"
	DeliveryComplete DeliveryStatus = "delivery_completed"
	DeliveryRevoked  DeliveryStatus = "delivery_revoked"
)

type SettlementStatus string

const (
	SettlementLocked   SettlementStatus = "settlement_locked"
	SettlementReleased SettlementStatus = "settlement_released"
	SettlementRefunded SettlementStatus = "settlement_refunded"
)

// UsageScope bounds what a buyer may do with the asset.
type UsageScope struct {
	Purpose      string `json:"purpose"`
	Region       string `json:"region,omitempty"`
	DurationDays int    `json:"durationDays,omitempty"`
	Transferable bool   `json:"transferable,omitempty"`
}

// AssetMeta is free-form descriptive metadata attached to an offer.
type AssetMeta struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SchemaHash  string   `json:"schemaHash,omitempty"`
}

// Offer is a seller's published asset listing. OfferHash covers the
// identity-bearing fields and is recomputed on every field mutation.
type Offer struct {
	OfferID      string       `json:"offerId"`
	SellerID     string       `json:"sellerId"`
	AssetID      string       `json:"assetId"`
	AssetType    AssetType    `json:"assetType"`
	AssetMeta    AssetMeta    `json:"assetMeta"`
	Price        float64      `json:"price"`
	Currency     string       `json:"currency"`
	UsageScope   UsageScope   `json:"usageScope"`
	DeliveryType DeliveryType `json:"deliveryType"`
	Status       OfferStatus  `json:"status"`
	OfferHash    string       `json:"offerHash"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// HashPayload returns the fields covered by OfferHash.
func (o *Offer) HashPayload() map[string]any {
	return map[string]any{
		"offerId":      o.OfferID,
		"sellerId":     o.SellerID,
		"assetId":      o.AssetID,
		"assetType":    o.AssetType,
		"assetMeta":    o.AssetMeta,
		"price":        o.Price,
		"currency":     o.Currency,
		"usageScope":   o.UsageScope,
		"deliveryType": o.DeliveryType,
	}
}

// Order references exactly one Offer.
type Order struct {
	OrderID       string      `json:"orderId"`
	OfferID       string      `json:"offerId"`
	BuyerID       string      `json:"buyerId"`
	Quantity      int         `json:"quantity"`
	Status        OrderStatus `json:"status"`
	OrderHash     string      `json:"orderHash"`
	PaymentTxHash string      `json:"paymentTxHash,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// ConsentScope is the buyer-acknowledged usage scope for one order.
type ConsentScope struct {
	Purpose      string `json:"purpose"`
	DurationDays int    `json:"durationDays,omitempty"`
	ScopeHash    string `json:"scopeHash,omitempty"`
}

// Consent is 1:1 with an Order.
type Consent struct {
	ConsentID    string        `json:"consentId"`
	OrderID      string        `json:"orderId"`
	Scope        ConsentScope  `json:"scope"`
	Signature    string        `json:"signature"`
	Status       ConsentStatus `json:"status"`
	ConsentHash  string        `json:"consentHash"`
	GrantedAt    time.Time     `json:"grantedAt"`
	RevokedAt    *time.Time    `json:"revokedAt,omitempty"`
	RevokeReason string        `json:"revokeReason,omitempty"`
	RevokeHash   string        `json:"revokeHash,omitempty"`
}

// Payload is the inline delivery secret. Exactly one of Payload and
// PayloadRef is set on a Delivery; the raw secret and the blob reference
// never travel together.
type Payload struct {
	Type         DeliveryType `json:"type"`
	DownloadURL  string       `json:"downloadUrl,omitempty"`
	AccessToken  string       `json:"accessToken,omitempty"`
	Quota        int          `json:"quota,omitempty"`
	ServiceQuota int          `json:"serviceQuota,omitempty"`
	TicketID     string       `json:"ticketId,omitempty"`
}

// PayloadRef points at an externally stored, encrypted delivery payload.
type PayloadRef struct {
	Store string `json:"store"`
	Ref   string `json:"ref"`
}

// Delivery is the issued access for an order.
type Delivery struct {
	DeliveryID   string         `json:"deliveryId"`
	OrderID      string         `json:"orderId"`
	DeliveryType DeliveryType   `json:"deliveryType"`
	Status       DeliveryStatus `json:"status"`
	DeliveryHash string         `json:"deliveryHash"`
	IssuedAt     time.Time      `json:"issuedAt"`
	RevokedAt    *time.Time     `json:"revokedAt,omitempty"`
	RevokeReason string         `json:"revokeReason,omitempty"`
	RevokeHash   string         `json:"revokeHash,omitempty"`
	Payload      *Payload       `json:"payload,omitempty"`
	PayloadRef   *PayloadRef    `json:"payloadRef,omitempty"`
}

// Payee is one recipient of a settlement release.
type Payee struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// Settlement is the 1:1 escrow record for an order. Amounts are
// big-integer decimal strings.
type Settlement struct {
	SettlementID   string           `json:"settlementId"`
	OrderID        string           `json:"orderId"`
	Status         SettlementStatus `json:"status"`
	Amount         string           `json:"amount"`
	TokenAddress   string           `json:"tokenAddress,omitempty"`
	LockedAt       *time.Time       `json:"lockedAt,omitempty"`
	ReleasedAt     *time.Time       `json:"releasedAt,omitempty"`
	RefundedAt     *time.Time       `json:"refundedAt,omitempty"`
	RefundReason   string           `json:"refundReason,omitempty"`
	LockTxHash     string           `json:"lockTxHash,omitempty"`
	ReleaseTxHash  string           `json:"releaseTxHash,omitempty"`
	RefundTxHash   string           `json:"refundTxHash,omitempty"`
	SettlementHash string           `json:"settlementHash,omitempty"`
}
