// Package natsrooms connects the gateway to a Room Manager over NATS.
//
// Requests use core NATS request/reply on "<prefix>.rooms.<op>" subjects with
// JSON bodies. Every reply is an envelope:
//
//	{"data": <result>, "error": {"code": "ROOM_NOT_FOUND", "message": "..."}}
//
// A non-empty error code is surfaced to the gateway as a *gateway.AppError so
// it reaches clients verbatim. Live room events are published on
// "<prefix>.events.<roomId>" with a gateway.RoomEvent body.
//
// Client is the gateway side; Responder exposes any gateway.RoomManager on
// the same subjects, and PublishEvent feeds the event stream.
package natsrooms
