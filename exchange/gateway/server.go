package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database/repositories"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/auction"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/settlement"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/trade"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/logger"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/services"
)

const (
	helloTimeout  = 5 * time.Second
	readTimeout   = 60 * time.Second
	writeTimeout  = 5 * time.Second
	outQueueSize  = 32
	handleTimeout = 10 * time.Second
)

// Server terminates player websocket connections and dispatches
// requests to the trade and auction systems.
type Server struct {
	hub      *Hub
	trades   *trade.Coordinator
	auctions *auction.Manager
	players  repositories.PlayerRepository
	mail     repositories.MailRepository
	settler  *settlement.Service
	locator  *services.LocatorService

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(listenAddr string, hub *Hub, trades *trade.Coordinator, auctions *auction.Manager, players repositories.PlayerRepository, mail repositories.MailRepository, settler *settlement.Service, locator *services.LocatorService) *Server {
	s := &Server{
		hub:      hub,
		trades:   trades,
		auctions: auctions,
		players:  players,
		mail:     mail,
		settler:  settler,
		locator:  locator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	slog.Info("Gateway listening",
		slog.String("type", "sys"),
		slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	playerID, out := s.handshake(conn)
	if playerID == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Writer goroutine.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-out:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader loop.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			cancel()
			break
		}
		s.dispatch(playerID, out, msg)
	}

	// Cleanup. A live trade cannot outlast its participant's session.
	s.hub.Unregister(playerID, out)
	if s.hub.Connected(playerID) {
		// A newer connection took over; its state is not ours to tear
		// down.
		return
	}
	s.locator.Forget(playerID)

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), handleTimeout)
	if err := s.trades.Cancel(cleanupCtx, playerID, "player disconnected"); err != nil && protocol.CodeOf(err) != protocol.ErrNoSuchEntity {
		slog.Error("Failed to cancel trade on disconnect",
			slog.String("player_id", playerID.String()),
			slog.String("error", err.Error()))
	}
	cleanupCancel()

	slog.Info("Player disconnected",
		slog.String("type", "sys"),
		slog.String("player_id", playerID.String()))
}

func (s *Server) handshake(conn *websocket.Conn) (snowflake.ID, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected hello"),
			time.Now().Add(time.Second))
		return 0, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return 0, nil
	}
	if hello.Version != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unsupported protocol version"),
			time.Now().Add(time.Second))
		return 0, nil
	}
	if hello.PlayerID == 0 {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing player id"),
			time.Now().Add(time.Second))
		return 0, nil
	}
	if hello.PlayerName == "" {
		hello.PlayerName = fmt.Sprintf("player-%s", hello.PlayerID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := s.players.EnsureExists(ctx, hello.PlayerID, hello.PlayerName); err != nil {
		slog.Error("Failed to ensure player row",
			slog.String("player_id", hello.PlayerID.String()),
			slog.String("error", err.Error()))
		return 0, nil
	}

	out := make(chan []byte, outQueueSize)
	s.hub.Register(hello.PlayerID, out)

	slog.Info("Player connected",
		slog.String("type", "sys"),
		slog.String("player_id", hello.PlayerID.String()),
		slog.String("player_name", hello.PlayerName))

	return hello.PlayerID, out
}

// decode unmarshals a request payload, mapping failures to the invalid
// request code so clients are not told their typo was a server fault.
func decode(msg []byte, v any, msgType string) error {
	if err := json.Unmarshal(msg, v); err != nil {
		return protocol.InvalidRequest("malformed %s payload", msgType)
	}
	return nil
}

// dispatch decodes one request and answers it with a result message.
// Push notifications triggered by the operation go through the hub
// separately.
func (s *Server) dispatch(playerID snowflake.ID, out chan []byte, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(out, "", protocol.InvalidRequest("malformed message"), nil)
		return
	}
	if base.Version != protocol.Version {
		s.reply(out, base.Type, protocol.InvalidRequest("unsupported protocol version %d", base.Version), nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	start := time.Now()
	var data any
	switch base.Type {
	case protocol.TypeMove:
		var m protocol.MoveMsg
		if decode(msg, &m, base.Type) == nil {
			s.locator.Update(playerID, services.Position{X: m.X, Y: m.Y, Z: m.Z})
		}
		// Position updates are fire-and-forget.
		return

	case protocol.TypeTradeRequest:
		var m protocol.TradeRequestMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		var session *trade.Session
		if session, err = s.trades.RequestTrade(ctx, playerID, m.TargetID); err == nil {
			data = map[string]any{"session_id": session.ID}
		}

	case protocol.TypeTradeAccept:
		err = s.trades.AcceptTrade(ctx, playerID)

	case protocol.TypeTradeSetItem:
		var m protocol.TradeSetItemMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		err = s.trades.SetOfferItem(ctx, playerID, m.Slot, m.ItemID, m.Quantity)

	case protocol.TypeTradeSetGold:
		var m protocol.TradeSetGoldMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		err = s.trades.SetOfferGold(ctx, playerID, m.Amount)

	case protocol.TypeTradeConfirm:
		err = s.trades.Confirm(ctx, playerID)

	case protocol.TypeTradeCancel:
		err = s.trades.Cancel(ctx, playerID, "cancelled by player")

	case protocol.TypeListingCreate:
		var m protocol.ListingCreateMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		var listing *auction.Listing
		duration := time.Duration(m.DurationHours) * time.Hour
		if listing, err = s.auctions.CreateListing(ctx, playerID, m.ItemID, m.Quantity, m.StartPrice, m.BuyoutPrice, duration); err == nil {
			data = map[string]any{"listing_id": listing.ID}
		}

	case protocol.TypeListingBid:
		var m protocol.ListingBidMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		err = s.auctions.PlaceBid(ctx, playerID, m.ListingID, m.Amount)

	case protocol.TypeListingBuyout:
		var m protocol.ListingBuyoutMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		err = s.auctions.Buyout(ctx, playerID, m.ListingID)

	case protocol.TypeListingCancel:
		var m protocol.ListingCancelMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		err = s.auctions.CancelListing(ctx, playerID, m.ListingID)

	case protocol.TypeListingGet:
		var m protocol.ListingGetMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		var view protocol.ListingView
		if view, err = s.auctions.Get(m.ListingID); err == nil {
			data = view
		}

	case protocol.TypeListingsGet:
		var m protocol.ListingsGetMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		listings, totalPages := s.auctions.Listings(m.Query, m.Page)
		data = map[string]any{
			"listings":    listings,
			"page":        m.Page,
			"total_pages": totalPages,
		}

	case protocol.TypeMailGet:
		data, err = s.unclaimedMail(ctx, playerID)

	case protocol.TypeMailClaim:
		var m protocol.MailClaimMsg
		if err = decode(msg, &m, base.Type); err != nil {
			break
		}
		err = s.claimMail(ctx, playerID, m.MailID)

	default:
		err = protocol.InvalidRequest("unknown message type %q", base.Type)
	}

	if err != nil {
		var pe *protocol.Error
		if !errors.As(err, &pe) {
			// Collaborator failure; never leak internals to clients.
			slog.Error("Request failed",
				slog.String("type", "req"),
				slog.String("player_id", playerID.String()),
				slog.String("request", base.Type),
				slog.String("error", err.Error()))
			err = protocol.Internal("request failed")
		}
	}

	logger.LogRequest(base.Type, time.Since(start), err)
	s.reply(out, base.Type, err, data)
}

func (s *Server) unclaimedMail(ctx context.Context, playerID snowflake.ID) (any, error) {
	rows, err := s.mail.Unclaimed(ctx, playerID)
	if err != nil {
		return nil, err
	}
	views := make([]protocol.MailView, 0, len(rows))
	for _, m := range rows {
		views = append(views, protocol.MailView{
			MailID:   m.ID,
			Subject:  m.Subject,
			Body:     m.Body,
			ItemID:   m.ItemID,
			Quantity: m.Quantity,
			Gold:     m.Gold,
			SentAt:   m.CreatedAt.Unix(),
		})
	}
	return map[string]any{"mail": views}, nil
}

// claimMail marks the mail claimed and applies its attachment. Delivery
// goes through the settlement fallbacks, so a full inventory re-mails
// the item instead of losing it.
func (s *Server) claimMail(ctx context.Context, playerID snowflake.ID, mailID int64) error {
	m, err := s.mail.Claim(ctx, playerID, mailID)
	if err != nil {
		return protocol.PreconditionFailed("mail could not be claimed")
	}

	if m.Gold > 0 {
		if err := s.settler.GrantGold(ctx, playerID, m.Gold, m.Subject, m.Body); err != nil {
			return err
		}
	}
	if m.ItemID != 0 && m.Quantity > 0 {
		if err := s.settler.DeliverItem(ctx, playerID,
			settlement.ItemStack{ItemID: m.ItemID, Quantity: m.Quantity},
			m.Subject, m.Body,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) reply(out chan []byte, request string, err error, data any) {
	result := protocol.ResultMsg{
		Base:    protocol.Base{Type: protocol.TypeResult, Version: protocol.Version},
		Request: request,
		OK:      err == nil,
	}
	if err != nil {
		result.Code = protocol.CodeOf(err)
		result.Reason = protocol.ReasonOf(err)
	}
	if data != nil {
		raw, merr := json.Marshal(data)
		if merr == nil {
			result.Data = raw
		}
	}

	b, merr := json.Marshal(result)
	if merr != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}
