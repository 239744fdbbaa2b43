package auction

import (
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

// Listing is one seller's posted item. A listing with Active == false is
// terminal and must not be mutated further. HighestBidderID is zero iff
// HighestBid is zero; once non-zero, HighestBid only grows.
type Listing struct {
	ID              snowflake.ID
	SellerID        snowflake.ID
	ItemID          int64
	ItemName        string
	Quantity        int64
	StartPrice      int64
	BuyoutPrice     int64 // 0 = no buyout
	EndTime         time.Time
	HighestBidderID snowflake.ID // 0 = no bids yet
	HighestBid      int64
	Active          bool
	CreatedAt       time.Time
}

func (l *Listing) expired(now time.Time) bool {
	return !now.Before(l.EndTime)
}

// minBid is the smallest acceptable next bid.
func (l *Listing) minBid(step int64) int64 {
	if l.HighestBid == 0 {
		return l.StartPrice
	}
	return l.HighestBid + step
}

func (l *Listing) view() protocol.ListingView {
	return protocol.ListingView{
		ListingID:   l.ID,
		SellerID:    l.SellerID,
		ItemID:      l.ItemID,
		ItemName:    l.ItemName,
		Quantity:    l.Quantity,
		StartPrice:  l.StartPrice,
		BuyoutPrice: l.BuyoutPrice,
		HighestBid:  l.HighestBid,
		EndsAt:      l.EndTime.Unix(),
	}
}
