package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
	"github.com/openagents/a2a-engine/pkg/executor"
	"github.com/openagents/a2a-engine/pkg/jsonrpc"
	"github.com/openagents/a2a-engine/pkg/push"
	"github.com/openagents/a2a-engine/pkg/sse"
)

const (
	methodSend          = "tasks/send"
	methodSendSubscribe = "tasks/sendSubscribe"
	methodResubscribe   = "tasks/resubscribe"
	methodGet           = "tasks/get"
	methodCancel        = "tasks/cancel"
	methodPushSet       = "tasks/pushNotification/set"
	methodPushGet       = "tasks/pushNotification/get"
)

/*
RPCHandler is the JSON-RPC 2.0 front door.  Non-streaming methods answer
with a plain JSON body (single or batch); the streaming methods keep the
connection and turn the response into an SSE stream of event envelopes.
*/
type RPCHandler struct {
	executor     *executor.TaskExecutor
	fanout       *sse.Fanout
	push         *push.Service
	capabilities a2a.AgentCapabilities
}

func (handler *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isJSONRequest(r) {
		handler.writeJSON(w, http.StatusUnsupportedMediaType,
			jsonrpc.NewError(nil, errors.ErrInvalidRequest.WithMessagef(
				"unsupported content type %q", r.Header.Get("Content-Type"),
			)))
		return
	}

	body, err := io.ReadAll(r.Body)

	if err != nil {
		handler.writeError(w, nil, errors.ErrParseError.WithMessagef("failed to read body: %v", err))
		return
	}

	trimmed := bytes.TrimSpace(body)

	if len(trimmed) == 0 {
		handler.writeError(w, nil, errors.ErrParseError)
		return
	}

	if trimmed[0] == '[' {
		handler.serveBatch(w, r, trimmed)
		return
	}

	var request jsonrpc.Request

	if err := json.Unmarshal(trimmed, &request); err != nil {
		handler.writeError(w, nil, errors.ErrParseError.WithMessagef("malformed request: %v", err))
		return
	}

	requestID := decodeID(request.ID)

	if request.JSONRPC != "2.0" || request.Method == "" {
		handler.writeError(w, requestID, errors.ErrInvalidRequest)
		return
	}

	switch request.Method {
	case methodSendSubscribe, methodResubscribe:
		handler.serveStream(w, r, request, requestID)
	default:
		response := handler.call(r.Context(), request, requestID)

		status := http.StatusOK
		if response.Error != nil {
			status = response.Error.HTTPStatus()
		}

		handler.writeJSON(w, status, response)
	}
}

// serveBatch answers a JSON-RPC batch.  Streaming methods cannot share a
// connection, so inside a batch they are rejected per entry.
func (handler *RPCHandler) serveBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var requests []jsonrpc.Request

	if err := json.Unmarshal(body, &requests); err != nil {
		handler.writeError(w, nil, errors.ErrParseError.WithMessagef("malformed batch: %v", err))
		return
	}

	if len(requests) == 0 {
		handler.writeError(w, nil, errors.ErrInvalidRequest)
		return
	}

	responses := make([]jsonrpc.Response, 0, len(requests))

	for _, request := range requests {
		requestID := decodeID(request.ID)

		var response jsonrpc.Response

		switch {
		case request.JSONRPC != "2.0" || request.Method == "":
			response = jsonrpc.NewError(requestID, errors.ErrInvalidRequest)
		case request.Method == methodSendSubscribe || request.Method == methodResubscribe:
			response = jsonrpc.NewError(requestID, errors.ErrInvalidRequest.WithMessagef(
				"streaming method %s is not allowed in a batch", request.Method,
			))
		default:
			response = handler.call(r.Context(), request, requestID)
		}

		if !request.IsNotification() {
			responses = append(responses, response)
		}
	}

	handler.writeJSON(w, http.StatusOK, responses)
}

// call dispatches one non-streaming request.
func (handler *RPCHandler) call(ctx context.Context, request jsonrpc.Request, requestID any) jsonrpc.Response {
	switch request.Method {
	case methodSend:
		params, rpcErr := parseSendParams(request.Params)
		if rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		if params.PushNotification != nil && !handler.capabilities.PushNotifications {
			return jsonrpc.NewError(requestID, errors.ErrPushNotificationsNotSupported)
		}

		task, rpcErr := handler.executor.Send(ctx, *params)
		if rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		handler.registerPush(ctx, task.ID, params.PushNotification)

		return jsonrpc.NewResult(requestID, task)

	case methodGet:
		var params a2a.TaskQueryParams
		if rpcErr := parseParams(request.Params, &params); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}
		if rpcErr := validateTaskID(params.ID); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		task, rpcErr := handler.executor.Get(ctx, params)
		if rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		return jsonrpc.NewResult(requestID, task)

	case methodCancel:
		var params a2a.TaskIDParams
		if rpcErr := parseParams(request.Params, &params); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}
		if rpcErr := validateTaskID(params.ID); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		task, rpcErr := handler.executor.Cancel(ctx, params)
		if rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		return jsonrpc.NewResult(requestID, task)

	case methodPushSet:
		if !handler.capabilities.PushNotifications {
			return jsonrpc.NewError(requestID, errors.ErrPushNotificationsNotSupported)
		}

		var params a2a.TaskPushNotificationConfig
		if rpcErr := parseParams(request.Params, &params); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}
		if rpcErr := validatePushConfig(params); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		if rpcErr := handler.executor.SetPushConfig(ctx, params); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		handler.push.SetConfig(params.ID, &params.PushNotificationConfig)

		return jsonrpc.NewResult(requestID, params)

	case methodPushGet:
		if !handler.capabilities.PushNotifications {
			return jsonrpc.NewError(requestID, errors.ErrPushNotificationsNotSupported)
		}

		var params a2a.TaskIDParams
		if rpcErr := parseParams(request.Params, &params); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}
		if rpcErr := validateTaskID(params.ID); rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		config, rpcErr := handler.executor.GetPushConfig(ctx, params.ID)
		if rpcErr != nil {
			return jsonrpc.NewError(requestID, rpcErr)
		}

		result := a2a.TaskPushNotificationConfig{ID: params.ID}
		if config != nil {
			result.PushNotificationConfig = *config
		}

		return jsonrpc.NewResult(requestID, result)

	default:
		return jsonrpc.NewError(requestID, errors.ErrMethodNotFound.WithMessagef(
			"unknown method %s", request.Method,
		))
	}
}

/*
serveStream handles sendSubscribe and resubscribe.  The subscription is
registered before the task work starts so the very first committed event
reaches the subscriber; then the response becomes the SSE stream.
*/
func (handler *RPCHandler) serveStream(w http.ResponseWriter, r *http.Request, request jsonrpc.Request, requestID any) {
	if !handler.capabilities.Streaming {
		handler.writeError(w, requestID, errors.ErrUnsupportedOperation.WithMessagef(
			"streaming is not advertised by this agent",
		))
		return
	}

	switch request.Method {
	case methodSendSubscribe:
		params, rpcErr := parseSendParams(request.Params)
		if rpcErr != nil {
			handler.writeError(w, requestID, rpcErr)
			return
		}

		// The subscription needs the task id before the task exists.
		if params.ID == "" {
			params.ID = uuid.New().String()
		}

		sub, rpcErr := handler.fanout.Subscribe(params.ID, requestID)
		if rpcErr != nil {
			handler.writeError(w, requestID, rpcErr)
			return
		}

		if params.PushNotification != nil && !handler.capabilities.PushNotifications {
			handler.fanout.Unsubscribe(sub)
			handler.writeError(w, requestID, errors.ErrPushNotificationsNotSupported)
			return
		}

		if _, rpcErr := handler.executor.Send(r.Context(), *params); rpcErr != nil {
			handler.fanout.Unsubscribe(sub)
			handler.writeError(w, requestID, rpcErr)
			return
		}

		handler.registerPush(r.Context(), params.ID, params.PushNotification)

		handler.stream(w, r, sub)

	case methodResubscribe:
		var params a2a.TaskQueryParams
		if rpcErr := parseParams(request.Params, &params); rpcErr != nil {
			handler.writeError(w, requestID, rpcErr)
			return
		}
		if rpcErr := validateTaskID(params.ID); rpcErr != nil {
			handler.writeError(w, requestID, rpcErr)
			return
		}

		task, rpcErr := handler.executor.Get(r.Context(), params)
		if rpcErr != nil {
			handler.writeError(w, requestID, rpcErr)
			return
		}

		if task.Status.State.Terminal() {
			// One final event, then close.  No replay of anything else.
			handler.writeFinalEvent(w, requestID, task)
			return
		}

		sub, rpcErr := handler.fanout.Subscribe(params.ID, requestID)
		if rpcErr != nil {
			handler.writeError(w, requestID, rpcErr)
			return
		}

		handler.stream(w, r, sub)
	}
}

// registerPush records the push target carried on send params, once the
// task exists.
func (handler *RPCHandler) registerPush(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) {
	if config == nil {
		return
	}

	if rpcErr := handler.executor.SetPushConfig(ctx, a2a.TaskPushNotificationConfig{
		ID:                     taskID,
		PushNotificationConfig: *config,
	}); rpcErr != nil {
		log.Error("failed to store push config", "taskID", taskID, "error", rpcErr)
		return
	}

	handler.push.SetConfig(taskID, config)
}

func (handler *RPCHandler) stream(w http.ResponseWriter, r *http.Request, sub *sse.Subscriber) {
	writeSSEHeaders(w)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	handler.fanout.Stream(w, r, sub)
}

func (handler *RPCHandler) writeFinalEvent(w http.ResponseWriter, requestID any, task *a2a.Task) {
	event := a2a.TaskStatusUpdateEvent{
		ID:     task.ID,
		Status: task.Status,
		Final:  true,
	}

	frame, err := json.Marshal(jsonrpc.NewResult(requestID, event))

	if err != nil {
		handler.writeError(w, requestID, errors.ErrInternal.WithMessagef("failed to marshal event: %v", err))
		return
	}

	writeSSEHeaders(w)
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(frame)
	_, _ = w.Write([]byte("\n\n"))
}

func (handler *RPCHandler) writeError(w http.ResponseWriter, requestID any, rpcErr *errors.RpcError) {
	handler.writeJSON(w, rpcErr.HTTPStatus(), jsonrpc.NewError(requestID, rpcErr))
}

func (handler *RPCHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("failed to write response", "error", err)
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// isJSONRequest accepts application/json with any parameters (charset and
// the like).  Anything else is answered 415 before the body is read.
func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func decodeID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	var id any

	if err := json.Unmarshal(raw, &id); err != nil {
		return nil
	}

	return id
}

func parseParams(raw json.RawMessage, out any) *errors.RpcError {
	if len(raw) == 0 {
		return errors.ErrInvalidParams.WithMessagef("params are required")
	}

	if err := json.Unmarshal(raw, out); err != nil {
		log.Error("failed to unmarshal params", "error", err)
		return errors.ErrInvalidParams.WithMessagef("failed to unmarshal params: %v", err)
	}

	return nil
}

func parseSendParams(raw json.RawMessage) (*a2a.TaskSendParams, *errors.RpcError) {
	var params a2a.TaskSendParams

	if rpcErr := parseParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}

	if rpcErr := validateSendParams(params); rpcErr != nil {
		return nil, rpcErr
	}

	return &params, nil
}
