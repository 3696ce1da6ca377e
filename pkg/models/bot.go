package models

import (
	"fmt"
	"strings"
	"time"
)

// BotStatus is the lifecycle state of a meeting bot
type BotStatus string

const (
	BotStatusReadyToDeploy BotStatus = "READY_TO_DEPLOY"
	BotStatusQueued        BotStatus = "QUEUED"
	BotStatusDeploying     BotStatus = "DEPLOYING"
	BotStatusJoiningCall   BotStatus = "JOINING_CALL"
	BotStatusInWaitingRoom BotStatus = "IN_WAITING_ROOM"
	BotStatusInCall        BotStatus = "IN_CALL"
	BotStatusCallEnded     BotStatus = "CALL_ENDED"
	BotStatusDone          BotStatus = "DONE"
	BotStatusFatal         BotStatus = "FATAL"
)

// AllBotStatuses lists every bot status in lifecycle order
var AllBotStatuses = []BotStatus{
	BotStatusReadyToDeploy,
	BotStatusQueued,
	BotStatusDeploying,
	BotStatusJoiningCall,
	BotStatusInWaitingRoom,
	BotStatusInCall,
	BotStatusCallEnded,
	BotStatusDone,
	BotStatusFatal,
}

// IsTerminal reports whether the bot has finished its session, successfully or not.
func (s BotStatus) IsTerminal() bool {
	switch s {
	case BotStatusCallEnded, BotStatusDone, BotStatusFatal:
		return true
	}
	return false
}

// IsActive reports whether the bot is expected to be sending heartbeats.
func (s BotStatus) IsActive() bool {
	switch s {
	case BotStatusJoiningCall, BotStatusInWaitingRoom, BotStatusInCall:
		return true
	}
	return false
}

// ParseBotStatus validates a status string
func ParseBotStatus(s string) (BotStatus, bool) {
	for _, st := range AllBotStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// MeetingPlatform is the video platform a bot joins. It is distinct from the
// deployment platform the bot runs on.
type MeetingPlatform string

const (
	MeetingPlatformZoom       MeetingPlatform = "zoom"
	MeetingPlatformGoogleMeet MeetingPlatform = "google_meet"
	MeetingPlatformTeams      MeetingPlatform = "teams"
)

// PlatformType identifies a deployment platform
type PlatformType string

const (
	PlatformCoolify    PlatformType = "coolify"
	PlatformAWS        PlatformType = "aws"
	PlatformKubernetes PlatformType = "k8s"
	PlatformLocal      PlatformType = "local"
	PlatformAuto       PlatformType = "auto"
)

// ParsePlatformType validates a deployment platform name. The empty string means auto.
func ParsePlatformType(s string) (PlatformType, error) {
	switch p := PlatformType(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformCoolify, PlatformAWS, PlatformKubernetes, PlatformLocal, PlatformAuto:
		return p, nil
	case "":
		return PlatformAuto, nil
	case "kubernetes":
		return PlatformKubernetes, nil
	case "ecs":
		return PlatformAWS, nil
	}
	return "", fmt.Errorf("unknown deployment platform %q (expected coolify, aws, k8s, local or auto)", s)
}

// Valid reports whether m is a supported meeting platform
func (m MeetingPlatform) Valid() bool {
	switch m {
	case MeetingPlatformZoom, MeetingPlatformGoogleMeet, MeetingPlatformTeams:
		return true
	}
	return false
}

// Bot represents one meeting-join session
type Bot struct {
	ID                 int64           `json:"id"`
	MeetingPlatform    MeetingPlatform `json:"meetingPlatform"`
	MeetingURL         string          `json:"meetingUrl"`
	BotName            string          `json:"botName"`
	StartTime          *time.Time      `json:"startTime,omitempty"`
	EndTime            *time.Time      `json:"endTime,omitempty"`
	Status             BotStatus       `json:"status"`
	DeploymentPlatform PlatformType    `json:"deploymentPlatform,omitempty"`
	PlatformIdentifier string          `json:"platformIdentifier,omitempty"`
	Priority           int             `json:"priority"`
	HeartbeatAt        *time.Time      `json:"heartbeatAt,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// BotFilter defines filtering options for bot queries
type BotFilter struct {
	Platform *PlatformType
	Status   *BotStatus
	Limit    int
}
