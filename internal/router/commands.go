package router

// Command names accepted from remote coordinator clients
const (
	CmdInitialize                     = "initialize"
	CmdCreateSession                  = "create_session"
	CmdJoinExistingSession            = "join_existing_session"
	CmdEndExistingAndCreateNew        = "end_existing_and_create_new"
	CmdCreateCourseSession            = "create_course_session"
	CmdSwitchToModule                 = "switch_to_module"
	CmdSwitchToStep                   = "switch_to_step"
	CmdJoinSession                    = "join_session"
	CmdFindAndJoinActiveSession       = "find_and_join_active_session"
	CmdFindAndJoinActiveCourseSession = "find_and_join_active_course_session"
	CmdJoinWhenAvailable              = "join_when_available"
	CmdNavigateToSlide                = "navigate_to_slide"
	CmdNavigateLocal                  = "navigate_local"
	CmdNextSlide                      = "next_slide"
	CmdPreviousSlide                  = "previous_slide"
	CmdToggleSync                     = "toggle_sync"
	CmdCatchUp                        = "catch_up"
	CmdLeaveSession                   = "leave_session"
	CmdEndSession                     = "end_session"
	CmdDisconnect                     = "disconnect"
	CmdGetSyncStatus                  = "get_sync_status"
)

type createSessionPayload struct {
	ModuleID    string `json:"module_id" validate:"required,entity_id"`
	TotalSlides int    `json:"total_slides" validate:"required,min=1"`
	SessionName string `json:"session_name" validate:"max=200"`
}

type sessionPayload struct {
	SessionID string `json:"session_id" validate:"required,entity_id"`
}

type endExistingPayload struct {
	OldSessionID string `json:"old_session_id" validate:"required,entity_id"`
	ModuleID     string `json:"module_id" validate:"required,entity_id"`
	TotalSlides  int    `json:"total_slides" validate:"required,min=1"`
	SessionName  string `json:"session_name" validate:"max=200"`
}

type courseSessionPayload struct {
	ClassID     string `json:"class_id" validate:"required,entity_id"`
	SessionName string `json:"session_name" validate:"max=200"`
}

type switchModulePayload struct {
	ModuleID    string `json:"module_id" validate:"required,entity_id"`
	TotalSlides int    `json:"total_slides" validate:"required,min=1"`
	StartSlide  int    `json:"start_slide" validate:"min=0"`
}

type switchStepPayload struct {
	StepID      string `json:"step_id" validate:"required,entity_id"`
	TotalSlides int    `json:"total_slides" validate:"required,min=1"`
	StartSlide  int    `json:"start_slide" validate:"min=0"`
}

type modulePayload struct {
	ModuleID string `json:"module_id" validate:"required,entity_id"`
}

type classPayload struct {
	ClassID string `json:"class_id" validate:"required,entity_id"`
}

type slidePayload struct {
	Slide int `json:"slide" validate:"required,min=1"`
}
