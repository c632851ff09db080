package service

import (
	"github.com/cohesivestack/valgo"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
)

// Parameter validation happens at the front door so the executor only ever
// sees well-formed input.

func validateTaskID(id string) *errors.RpcError {
	val := valgo.Is(valgo.String(id, "id").Not().Blank()).
		Is(valgo.String(id, "id").OfLengthBetween(1, 128))

	if !val.Valid() {
		return errors.ErrInvalidParams.WithMessagef("invalid task id: %v", val.Error())
	}

	return nil
}

func validateSendParams(params a2a.TaskSendParams) *errors.RpcError {
	val := valgo.Is(valgo.String(params.Message.Role, "message.role").
		InSlice([]string{a2a.RoleUser, a2a.RoleAgent}))

	if params.ID != "" {
		val.Is(valgo.String(params.ID, "id").OfLengthBetween(1, 128))
	}

	if params.SessionID != "" {
		val.Is(valgo.String(params.SessionID, "sessionId").OfLengthBetween(1, 128))
	}

	if !val.Valid() {
		return errors.ErrInvalidParams.WithMessagef("invalid send params: %v", val.Error())
	}

	if len(params.Message.Parts) == 0 {
		return errors.ErrInvalidParams.WithMessagef("message must carry at least one part")
	}

	if params.PushNotification != nil && params.PushNotification.URL == "" {
		return errors.ErrInvalidParams.WithMessagef("push notification config requires a url")
	}

	return nil
}

func validatePushConfig(params a2a.TaskPushNotificationConfig) *errors.RpcError {
	val := valgo.Is(valgo.String(params.ID, "id").Not().Blank()).
		Is(valgo.String(params.PushNotificationConfig.URL, "pushNotificationConfig.url").Not().Blank())

	if !val.Valid() {
		return errors.ErrInvalidParams.WithMessagef("invalid push config: %v", val.Error())
	}

	return nil
}
