package trade

import (
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// OfferSlot is one entry of a live trade offer. A zero ItemID means the
// slot is empty.
type OfferSlot struct {
	ItemID   int64
	Quantity int64
}

func (s OfferSlot) Empty() bool {
	return s.ItemID == 0
}

// Offer is one side's proposed contents: a fixed number of item slots
// plus a gold amount.
type Offer struct {
	Slots []OfferSlot
	Gold  int64
}

func newOffer(slotCount int) Offer {
	return Offer{Slots: make([]OfferSlot, slotCount)}
}

// Session is a single live two-party trade. All fields are guarded by
// the coordinator's lock; sessions never leave the coordinator.
type Session struct {
	ID           snowflake.ID
	ParticipantA snowflake.ID
	ParticipantB snowflake.ID
	Status       Status
	OfferA       Offer
	OfferB       Offer
	ConfirmedA   bool
	ConfirmedB   bool
	StartTime    time.Time
}

func (s *Session) isParticipant(playerID snowflake.ID) bool {
	return playerID == s.ParticipantA || playerID == s.ParticipantB
}

func (s *Session) other(playerID snowflake.ID) snowflake.ID {
	if playerID == s.ParticipantA {
		return s.ParticipantB
	}
	return s.ParticipantA
}

func (s *Session) offerOf(playerID snowflake.ID) *Offer {
	if playerID == s.ParticipantA {
		return &s.OfferA
	}
	return &s.OfferB
}

func (s *Session) setConfirmed(playerID snowflake.ID, v bool) {
	if playerID == s.ParticipantA {
		s.ConfirmedA = v
	} else {
		s.ConfirmedB = v
	}
}

// resetConfirmations clears both flags. Called on every offer mutation
// so a confirmation can never apply to contents the player has not seen.
func (s *Session) resetConfirmations() {
	s.ConfirmedA = false
	s.ConfirmedB = false
}

func (s *Session) offerView(playerID snowflake.ID) protocol.OfferView {
	offer := s.offerOf(playerID)
	confirmed := s.ConfirmedA
	if playerID == s.ParticipantB {
		confirmed = s.ConfirmedB
	}
	slots := make([]protocol.OfferSlotView, len(offer.Slots))
	for i, sl := range offer.Slots {
		slots[i] = protocol.OfferSlotView{ItemID: sl.ItemID, Quantity: sl.Quantity}
	}
	return protocol.OfferView{
		PlayerID: playerID,
		Slots:    slots,
		Gold:     offer.Gold,
		Confirm:  confirmed,
	}
}
