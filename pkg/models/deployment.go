package models

// DeployRequest describes a bot to deploy
type DeployRequest struct {
	// BotID redeploys an existing bot when set; the remaining fields are ignored.
	BotID           int64             `json:"botId,omitempty"`
	MeetingPlatform MeetingPlatform   `json:"meetingPlatform"`
	MeetingURL      string            `json:"meetingUrl"`
	BotName         string            `json:"botName"`
	Priority        int               `json:"priority,omitempty"`
	Platform        PlatformType      `json:"platform,omitempty"` // overrides the configured platform
	Env             map[string]string `json:"env,omitempty"`
}

// DeployResult is the normalized outcome of a deployment request
type DeployResult struct {
	Bot        *Bot        `json:"bot"`
	Status     BotStatus   `json:"status"`
	Queued     bool        `json:"queued"`
	QueueEntry *QueueEntry `json:"queueEntry,omitempty"`
	Slot       *PoolSlot   `json:"slot,omitempty"`
	WorkloadID string      `json:"workloadId,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	Error      string      `json:"error,omitempty"`
}
