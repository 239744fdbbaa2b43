package trade

import (
	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

// Notifier pushes trade-state broadcasts to the two participants.
type Notifier struct {
	push interfaces.Pusher
}

func NewNotifier(push interfaces.Pusher) *Notifier {
	return &Notifier{push: push}
}

type tradeEvent struct {
	SessionID snowflake.ID `json:"session_id"`
	PlayerID  snowflake.ID `json:"player_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

type offerEvent struct {
	SessionID snowflake.ID         `json:"session_id"`
	Offers    []protocol.OfferView `json:"offers"`
}

func (n *Notifier) TradeRequested(target, requester snowflake.ID, sessionID snowflake.ID) {
	n.push.Push(target, protocol.NewNotification(protocol.TypeTradeStarted, tradeEvent{
		SessionID: sessionID,
		PlayerID:  requester,
		Reason:    "trade requested",
	}))
}

func (n *Notifier) TradeStarted(s *Session) {
	for _, p := range []snowflake.ID{s.ParticipantA, s.ParticipantB} {
		n.push.Push(p, protocol.NewNotification(protocol.TypeTradeStarted, tradeEvent{
			SessionID: s.ID,
			PlayerID:  s.other(p),
		}))
	}
}

// OfferUpdated sends both current offers to both participants so each
// side can render the other's live offer.
func (n *Notifier) OfferUpdated(s *Session) {
	ev := offerEvent{
		SessionID: s.ID,
		Offers: []protocol.OfferView{
			s.offerView(s.ParticipantA),
			s.offerView(s.ParticipantB),
		},
	}
	n.push.Push(s.ParticipantA, protocol.NewNotification(protocol.TypeTradeOffer, ev))
	n.push.Push(s.ParticipantB, protocol.NewNotification(protocol.TypeTradeOffer, ev))
}

// ConfirmPending prompts the party that has not confirmed yet.
func (n *Notifier) ConfirmPending(s *Session, waitingOn snowflake.ID) {
	n.push.Push(waitingOn, protocol.NewNotification(protocol.TypeTradeConfirmWait, tradeEvent{
		SessionID: s.ID,
		PlayerID:  s.other(waitingOn),
	}))
}

func (n *Notifier) TradeCompleted(s *Session) {
	for _, p := range []snowflake.ID{s.ParticipantA, s.ParticipantB} {
		n.push.Push(p, protocol.NewNotification(protocol.TypeTradeCompleted, tradeEvent{
			SessionID: s.ID,
		}))
	}
}

func (n *Notifier) TradeCancelled(s *Session, reason string) {
	for _, p := range []snowflake.ID{s.ParticipantA, s.ParticipantB} {
		n.push.Push(p, protocol.NewNotification(protocol.TypeTradeCancelled, tradeEvent{
			SessionID: s.ID,
			Reason:    reason,
		}))
	}
}
