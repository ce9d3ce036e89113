// Package gateway routes JSON envelopes between WebSocket clients and an
// external Room Manager, and fans the Room Manager's sequenced room events
// out to subscribed players and delayed spectators.
//
// A Gateway authenticates each upgraded connection with the token query
// parameter and gives it a Context. Contexts subscribe to rooms as players
// (join_room) or spectators (watch_room). Live events reach players
// immediately. Spectators with a delay d receive at most one message per d;
// messages arriving inside the window replace each other so the spectator
// sees the latest state once the window closes.
//
// Clients that reconnect catch up with request_state or the sinceSeq field
// of join_room and watch_room.
//
// # Usage
//
//	gw, err := gateway.New(gateway.Config{
//	    RoomManager:   rooms,
//	    Authenticator: auth,
//	    Metrics:       sink,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
//	mux.Handle("/ws", gw)
package gateway
