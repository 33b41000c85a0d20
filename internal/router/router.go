package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ndkramer/one80learn-sub000/internal/coordinator"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Client is one connected tab as seen by the router
type Client struct {
	UserID      string
	Coordinator *coordinator.Coordinator

	// Push delivers an unsolicited frame to the tab
	Push func(frame *types.ServerFrame)
}

type handlerFunc func(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error)

// Router decodes command frames and dispatches them to a tab's coordinator
// ARCHITECTURAL DISCOVERY: Pure command routing without connection handling;
// the websocket layer owns sockets, the coordinator owns session state
type Router struct {
	validate    *validator.Validate
	rateLimiter *RateLimiter
	handlers    map[string]handlerFunc
	now         func() time.Time
}

// NewRouter creates a router allowing commandsPerMinute commands per user
func NewRouter(commandsPerMinute int) *Router {
	r := &Router{
		validate:    newValidator(),
		rateLimiter: NewRateLimiter(commandsPerMinute),
		now:         time.Now,
	}
	r.handlers = map[string]handlerFunc{
		CmdInitialize:                     r.initialize,
		CmdCreateSession:                  r.createSession,
		CmdJoinExistingSession:            r.joinExistingSession,
		CmdEndExistingAndCreateNew:        r.endExistingAndCreateNew,
		CmdCreateCourseSession:            r.createCourseSession,
		CmdSwitchToModule:                 r.switchToModule,
		CmdSwitchToStep:                   r.switchToStep,
		CmdJoinSession:                    r.joinSession,
		CmdFindAndJoinActiveSession:       r.findAndJoinActiveSession,
		CmdFindAndJoinActiveCourseSession: r.findAndJoinActiveCourseSession,
		CmdJoinWhenAvailable:              r.joinWhenAvailable,
		CmdNavigateToSlide:                r.navigateToSlide,
		CmdNavigateLocal:                  r.navigateLocal,
		CmdNextSlide:                      simple((*coordinator.Coordinator).NextSlide),
		CmdPreviousSlide:                  simple((*coordinator.Coordinator).PreviousSlide),
		CmdToggleSync:                     simple((*coordinator.Coordinator).ToggleSync),
		CmdCatchUp:                        withContext((*coordinator.Coordinator).CatchUp),
		CmdLeaveSession:                   withContext((*coordinator.Coordinator).LeaveSession),
		CmdEndSession:                     withContext((*coordinator.Coordinator).EndSession),
		CmdDisconnect:                     r.disconnect,
		CmdGetSyncStatus:                  r.getSyncStatus,
	}
	return r
}

// newValidator registers entity_id for catalog and session identifiers
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
		return types.IsValidEntityID(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Route handles one raw frame from client and returns the response frame
// FUNCTIONAL DISCOVERY: Rate limiting is applied after decoding so malformed
// frames still receive a correlated error, but before any store access
func (r *Router) Route(ctx context.Context, client *Client, data []byte) *types.ServerFrame {
	var cmd types.ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command == "" {
		return r.respond(&cmd, nil, ErrMalformedFrame)
	}

	if !r.rateLimiter.Allow(client.UserID) {
		return r.respond(&cmd, nil, ErrRateLimitExceeded)
	}

	handler, ok := r.handlers[cmd.Command]
	if !ok {
		return r.respond(&cmd, nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Command))
	}

	result, err := handler(ctx, client, cmd.Payload)
	if err != nil {
		log.Printf("Command failed: user=%s command=%s code=%s err=%v", client.UserID, cmd.Command, ErrorCode(err), err)
	}
	return r.respond(&cmd, result, err)
}

// Cleanup drops rate limiter state for idle users
func (r *Router) Cleanup() {
	r.rateLimiter.Cleanup()
}

func (r *Router) respond(cmd *types.ClientCommand, result interface{}, err error) *types.ServerFrame {
	frame := &types.ServerFrame{
		Type:      types.FrameResponse,
		ID:        cmd.ID,
		Command:   cmd.Command,
		OK:        err == nil,
		Data:      result,
		Timestamp: r.now(),
	}
	if err != nil {
		frame.Code = ErrorCode(err)
		frame.Error = err.Error()
		var conflict *types.ConflictError
		if errors.As(err, &conflict) {
			frame.Data = map[string]interface{}{
				"existing":        conflict.Existing,
				"same_instructor": conflict.SameInstructor,
			}
		}
	}
	return frame
}

// decode unmarshals and validates a command payload
func (r *Router) decode(payload json.RawMessage, dst interface{}) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := r.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			sort.Strings(fields)
			return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (r *Router) initialize(ctx context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
	if err := client.Coordinator.Initialize(ctx, client.UserID); err != nil {
		return nil, err
	}
	return client.Coordinator.GetSyncStatus(), nil
}

func (r *Router) createSession(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p createSessionPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	id, err := client.Coordinator.CreateSession(ctx, p.ModuleID, p.TotalSlides, p.SessionName)
	if err != nil {
		return nil, err
	}
	return sessionResult(client, id), nil
}

func (r *Router) joinExistingSession(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p sessionPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	if err := client.Coordinator.JoinExistingSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return client.Coordinator.GetSyncStatus(), nil
}

func (r *Router) endExistingAndCreateNew(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p endExistingPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	id, err := client.Coordinator.EndExistingAndCreateNew(ctx, p.OldSessionID, p.ModuleID, p.TotalSlides, p.SessionName)
	if err != nil {
		return nil, err
	}
	return sessionResult(client, id), nil
}

func (r *Router) createCourseSession(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p courseSessionPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	id, err := client.Coordinator.CreateCourseSession(ctx, p.ClassID, p.SessionName)
	if err != nil {
		return nil, err
	}
	return sessionResult(client, id), nil
}

func (r *Router) switchToModule(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p switchModulePayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	return nil, client.Coordinator.SwitchToModule(ctx, p.ModuleID, p.TotalSlides, p.StartSlide)
}

func (r *Router) switchToStep(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p switchStepPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	return nil, client.Coordinator.SwitchToStep(ctx, p.StepID, p.TotalSlides, p.StartSlide)
}

func (r *Router) joinSession(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p sessionPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	if err := client.Coordinator.JoinSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return client.Coordinator.GetSyncStatus(), nil
}

func (r *Router) findAndJoinActiveSession(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p modulePayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	if err := client.Coordinator.FindAndJoinActiveSession(ctx, p.ModuleID); err != nil {
		return nil, err
	}
	return client.Coordinator.GetSyncStatus(), nil
}

func (r *Router) findAndJoinActiveCourseSession(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p classPayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	if err := client.Coordinator.FindAndJoinActiveCourseSession(ctx, p.ClassID); err != nil {
		return nil, err
	}
	return client.Coordinator.GetSyncStatus(), nil
}

// joinWhenAvailable answers immediately; the outcome is pushed as an
// auto_join_result frame
// TECHNICAL DISCOVERY: The retry loop outlives the command, so it runs on a
// background context and is cancelled through the coordinator's Disconnect
func (r *Router) joinWhenAvailable(_ context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p modulePayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}

	result := client.Coordinator.JoinWhenAvailable(context.Background(), p.ModuleID)
	go func() {
		err := <-result
		frame := &types.ServerFrame{
			Type:      types.FrameAutoJoinResult,
			OK:        err == nil,
			Timestamp: r.now(),
		}
		if err != nil {
			frame.Code = ErrorCode(err)
			frame.Error = err.Error()
		} else {
			frame.Data = client.Coordinator.GetSyncStatus()
		}
		if client.Push != nil {
			client.Push(frame)
		}
	}()
	return map[string]bool{"pending": true}, nil
}

func (r *Router) navigateToSlide(ctx context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p slidePayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	return nil, client.Coordinator.NavigateToSlide(ctx, p.Slide)
}

func (r *Router) navigateLocal(_ context.Context, client *Client, payload json.RawMessage) (interface{}, error) {
	var p slidePayload
	if err := r.decode(payload, &p); err != nil {
		return nil, err
	}
	if err := client.Coordinator.NavigateLocal(p.Slide); err != nil {
		return nil, err
	}
	return client.Coordinator.GetSyncStatus(), nil
}

func (r *Router) disconnect(_ context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
	client.Coordinator.Disconnect()
	return client.Coordinator.GetSyncStatus(), nil
}

func (r *Router) getSyncStatus(_ context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
	return client.Coordinator.GetSyncStatus(), nil
}

func simple(op func(*coordinator.Coordinator) error) handlerFunc {
	return func(_ context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
		if err := op(client.Coordinator); err != nil {
			return nil, err
		}
		return client.Coordinator.GetSyncStatus(), nil
	}
}

func withContext(op func(*coordinator.Coordinator, context.Context) error) handlerFunc {
	return func(ctx context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
		if err := op(client.Coordinator, ctx); err != nil {
			return nil, err
		}
		return client.Coordinator.GetSyncStatus(), nil
	}
}

func sessionResult(client *Client, sessionID string) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sessionID,
		"status":     client.Coordinator.GetSyncStatus(),
	}
}
