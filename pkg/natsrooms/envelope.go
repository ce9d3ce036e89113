package natsrooms

import (
	"encoding/json"
	"errors"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
)

type replyError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type reply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *replyError     `json:"error,omitempty"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type eventsSinceRequest struct {
	RoomID   string `json:"roomId"`
	SinceSeq uint64 `json:"sinceSeq"`
}

type leaveRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type inviteRequest struct {
	InviteCode string `json:"inviteCode"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

// encodeReply builds a reply envelope. Errors that are not *gateway.AppError
// are reported as SERVER_ERROR without their text.
func encodeReply(data any, err error) []byte {
	var r reply
	if err != nil {
		var appErr *gateway.AppError
		if errors.As(err, &appErr) {
			r.Error = &replyError{Code: appErr.Code, Message: appErr.Message}
		} else {
			r.Error = &replyError{Code: gateway.CodeServerError}
		}
	} else if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			r.Error = &replyError{Code: gateway.CodeServerError}
		} else {
			r.Data = raw
		}
	}
	out, _ := json.Marshal(r)
	return out
}

// decodeReply unpacks an envelope into out (which may be nil).
func decodeReply(body []byte, out any) error {
	var r reply
	if err := json.Unmarshal(body, &r); err != nil {
		return gateway.WrapError(gateway.CodeServerError, err)
	}
	if r.Error != nil && r.Error.Code != "" {
		return gateway.NewError(r.Error.Code, r.Error.Message)
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return gateway.WrapError(gateway.CodeServerError, err)
	}
	return nil
}
