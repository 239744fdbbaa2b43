package auction

import (
	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

// Notifier pushes auction broadcasts to affected players.
type Notifier struct {
	push interfaces.Pusher
}

func NewNotifier(push interfaces.Pusher) *Notifier {
	return &Notifier{push: push}
}

type listingEvent struct {
	Listing  protocol.ListingView `json:"listing"`
	PlayerID snowflake.ID         `json:"player_id,omitempty"`
	Amount   int64                `json:"amount,omitempty"`
	Proceeds int64                `json:"proceeds,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

func (n *Notifier) ListingCreated(l *Listing) {
	n.push.Push(l.SellerID, protocol.NewNotification(protocol.TypeListingCreated, listingEvent{
		Listing: l.view(),
	}))
}

// BidPlaced goes to both the seller and the new highest bidder.
func (n *Notifier) BidPlaced(l *Listing, bidder snowflake.ID, amount int64) {
	ev := listingEvent{Listing: l.view(), PlayerID: bidder, Amount: amount}
	n.push.Push(l.SellerID, protocol.NewNotification(protocol.TypeListingBidPlaced, ev))
	n.push.Push(bidder, protocol.NewNotification(protocol.TypeListingBidPlaced, ev))
}

// Outbid tells the previous highest bidder their escrow was refunded.
func (n *Notifier) Outbid(l *Listing, previous snowflake.ID, refunded int64) {
	n.push.Push(previous, protocol.NewNotification(protocol.TypeListingOutbid, listingEvent{
		Listing: l.view(),
		Amount:  refunded,
	}))
}

func (n *Notifier) Won(l *Listing, buyer snowflake.ID, price int64) {
	n.push.Push(buyer, protocol.NewNotification(protocol.TypeListingWon, listingEvent{
		Listing: l.view(),
		Amount:  price,
	}))
}

func (n *Notifier) Sold(l *Listing, price, proceeds int64) {
	n.push.Push(l.SellerID, protocol.NewNotification(protocol.TypeListingSold, listingEvent{
		Listing:  l.view(),
		Amount:   price,
		Proceeds: proceeds,
	}))
}

// Expired tells the seller an unsold listing ended and the item was
// returned.
func (n *Notifier) Expired(l *Listing, reason string) {
	n.push.Push(l.SellerID, protocol.NewNotification(protocol.TypeListingExpired, listingEvent{
		Listing: l.view(),
		Reason:  reason,
	}))
}
