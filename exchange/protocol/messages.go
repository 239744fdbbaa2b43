package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
)

// Version is bumped whenever a message shape changes incompatibly.
const Version = 1

// Client -> server message types.
const (
	TypeHello         = "hello"
	TypeMove          = "move"
	TypeTradeRequest  = "trade_request"
	TypeTradeAccept   = "trade_accept"
	TypeTradeSetItem  = "trade_set_item"
	TypeTradeSetGold  = "trade_set_gold"
	TypeTradeConfirm  = "trade_confirm"
	TypeTradeCancel   = "trade_cancel"
	TypeListingCreate = "listing_create"
	TypeListingBid    = "listing_bid"
	TypeListingBuyout = "listing_buyout"
	TypeListingCancel = "listing_cancel"
	TypeListingGet    = "listing_get"
	TypeListingsGet   = "listings_get"
	TypeMailGet       = "mail_get"
	TypeMailClaim     = "mail_claim"
)

// Server -> client message types.
const (
	TypeResult           = "result"
	TypeNotice           = "notice"
	TypeTradeStarted     = "trade_started"
	TypeTradeOffer       = "trade_offer"
	TypeTradeConfirmWait = "trade_confirm_wait"
	TypeTradeCompleted   = "trade_completed"
	TypeTradeCancelled   = "trade_cancelled"
	TypeListingCreated   = "listing_created"
	TypeListingBidPlaced = "listing_bid_placed"
	TypeListingOutbid    = "listing_outbid"
	TypeListingWon       = "listing_won"
	TypeListingSold      = "listing_sold"
	TypeListingExpired   = "listing_expired"
	TypeListingsPage     = "listings_page"
)

// Base is the envelope every message starts with.
type Base struct {
	Type    string `json:"type"`
	Version int    `json:"v"`
}

func DecodeBase(raw []byte) (Base, error) {
	var b Base
	if err := json.Unmarshal(raw, &b); err != nil {
		return Base{}, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	if b.Type == "" {
		return Base{}, fmt.Errorf("message has no type")
	}
	return b, nil
}

// HelloMsg identifies the player on connect. Player ids are assumed to
// be already-authenticated stable handles.
type HelloMsg struct {
	Base
	PlayerID   snowflake.ID `json:"player_id"`
	PlayerName string       `json:"player_name"`
}

// MoveMsg reports the player's current world position, feeding the
// range check for face-to-face trades.
type MoveMsg struct {
	Base
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type TradeRequestMsg struct {
	Base
	TargetID snowflake.ID `json:"target_id"`
}

type TradeSetItemMsg struct {
	Base
	Slot     int   `json:"slot"`
	ItemID   int64 `json:"item_id"` // 0 clears the slot
	Quantity int64 `json:"quantity"`
}

type TradeSetGoldMsg struct {
	Base
	Amount int64 `json:"amount"`
}

type ListingCreateMsg struct {
	Base
	ItemID        int64 `json:"item_id"`
	Quantity      int64 `json:"quantity"`
	StartPrice    int64 `json:"start_price"`
	BuyoutPrice   int64 `json:"buyout_price"`
	DurationHours int   `json:"duration_hours"`
}

type ListingBidMsg struct {
	Base
	ListingID snowflake.ID `json:"listing_id"`
	Amount    int64        `json:"amount"`
}

type ListingBuyoutMsg struct {
	Base
	ListingID snowflake.ID `json:"listing_id"`
}

type ListingCancelMsg struct {
	Base
	ListingID snowflake.ID `json:"listing_id"`
}

type ListingGetMsg struct {
	Base
	ListingID snowflake.ID `json:"listing_id"`
}

type ListingsGetMsg struct {
	Base
	Query string `json:"query,omitempty"`
	Page  int    `json:"page"`
}

type MailClaimMsg struct {
	Base
	MailID int64 `json:"mail_id"`
}

// MailView is the wire form of one inbox entry.
type MailView struct {
	MailID   int64  `json:"mail_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ItemID   int64  `json:"item_id,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	Gold     int64  `json:"gold,omitempty"`
	SentAt   int64  `json:"sent_at"` // unix seconds
}

// ResultMsg acknowledges a request. Code and Reason are set on failure.
type ResultMsg struct {
	Base
	Request string          `json:"request"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Notification is a server-initiated push to one player.
type Notification struct {
	Base
	Payload any `json:"payload,omitempty"`
}

func NewNotification(msgType string, payload any) Notification {
	return Notification{
		Base:    Base{Type: msgType, Version: Version},
		Payload: payload,
	}
}

// OfferView is the wire form of one side of a live trade offer.
type OfferView struct {
	PlayerID snowflake.ID    `json:"player_id"`
	Slots    []OfferSlotView `json:"slots"`
	Gold     int64           `json:"gold"`
	Confirm  bool            `json:"confirmed"`
}

type OfferSlotView struct {
	ItemID   int64 `json:"item_id"`
	Quantity int64 `json:"quantity"`
}

// ListingView is the wire form of an auction listing.
type ListingView struct {
	ListingID   snowflake.ID `json:"listing_id"`
	SellerID    snowflake.ID `json:"seller_id"`
	ItemID      int64        `json:"item_id"`
	ItemName    string       `json:"item_name"`
	Quantity    int64        `json:"quantity"`
	StartPrice  int64        `json:"start_price"`
	BuyoutPrice int64        `json:"buyout_price,omitempty"`
	HighestBid  int64        `json:"highest_bid"`
	EndsAt      int64        `json:"ends_at"` // unix seconds
}
