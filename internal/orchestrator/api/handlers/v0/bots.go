package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/auth"
)

// DeployBotRequest is the body of a deploy request
type DeployBotRequest struct {
	BotID           int64             `json:"botId,omitempty" doc:"Redeploy an existing bot instead of creating one"`
	MeetingPlatform string            `json:"meetingPlatform,omitempty" doc:"Video platform to join" enum:"zoom,google_meet,teams"`
	MeetingURL      string            `json:"meetingUrl,omitempty" doc:"Meeting link" example:"https://zoom.us/j/123456789"`
	BotName         string            `json:"botName,omitempty" doc:"Display name of the bot in the meeting" example:"Notetaker"`
	Priority        int               `json:"priority,omitempty" doc:"Queue priority, lower is served first"`
	Platform        string            `json:"platform,omitempty" doc:"Deployment platform override" enum:"coolify,aws,k8s,local,auto"`
	Env             map[string]string `json:"env,omitempty" doc:"Extra environment passed to the bot"`
}

// DeployBotInput is the input of the deploy endpoint
type DeployBotInput struct {
	Async bool `query:"async" doc:"Return as soon as the bot is created and continue the deployment in the background" default:"false"`
	Body  DeployBotRequest
}

// DeployBotResponse is the deployment outcome
type DeployBotResponse struct {
	Status int
	Body   models.DeployResult
}

// BotInput identifies a bot
type BotInput struct {
	ID int64 `path:"id" doc:"Bot ID" example:"42"`
}

// BotsListInput represents query parameters for listing bots
type BotsListInput struct {
	Platform string `query:"platform" doc:"Filter by deployment platform" enum:"coolify,aws,k8s,local"`
	Status   string `query:"status" doc:"Filter by bot status" example:"IN_CALL"`
	Limit    int    `query:"limit" doc:"Maximum number of bots to return" default:"100" minimum:"1" maximum:"1000"`
}

// BotsListBody is the list of bots
type BotsListBody struct {
	Bots []models.Bot `json:"bots" doc:"Bots, newest first"`
}

// BotStatusUpdate is the body of a status callback
type BotStatusUpdate struct {
	Status string `json:"status" doc:"New bot status" example:"IN_CALL"`
	Error  string `json:"error,omitempty" doc:"Error detail for FATAL"`
}

// RegisterBotsEndpoints registers the deploy, query and bot callback endpoints
func RegisterBotsEndpoints(api huma.API, pathPrefix string, svc service.DeploymentService) {
	huma.Register(api, huma.Operation{
		OperationID:   "deploy-bot" + operationSuffix(pathPrefix),
		Method:        http.MethodPost,
		Path:          pathPrefix + "/bots",
		Summary:       "Deploy a meeting bot",
		Description:   "Create a bot and deploy it. Pooled platforms may queue the bot until a slot frees up.",
		Tags:          []string{"bots"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *DeployBotInput) (*DeployBotResponse, error) {
		req, err := toDeployRequest(input.Body)
		if err != nil {
			return nil, err
		}

		if input.Async {
			bot, err := svc.StartDeployBot(ctx, req)
			if err != nil {
				return nil, toHumaError(err, "Bot")
			}
			return &DeployBotResponse{
				Status: http.StatusAccepted,
				Body:   models.DeployResult{Bot: bot, Status: bot.Status},
			}, nil
		}

		result, err := svc.DeployBot(ctx, req)
		if err != nil {
			return nil, toHumaError(err, "Bot")
		}
		status := http.StatusCreated
		if result.Queued {
			status = http.StatusAccepted
		}
		return &DeployBotResponse{Status: status, Body: *result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bots" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/bots",
		Summary:     "List bots",
		Tags:        []string{"bots"},
	}, func(ctx context.Context, input *BotsListInput) (*Response[BotsListBody], error) {
		filter := &models.BotFilter{Limit: input.Limit}
		if input.Platform != "" {
			p, err := models.ParsePlatformType(input.Platform)
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
			filter.Platform = &p
		}
		if input.Status != "" {
			s, ok := models.ParseBotStatus(input.Status)
			if !ok {
				return nil, huma.Error400BadRequest("Invalid bot status " + input.Status)
			}
			filter.Status = &s
		}

		bots, err := svc.ListBots(ctx, filter)
		if err != nil {
			return nil, toHumaError(err, "Bots")
		}
		resp := &Response[BotsListBody]{}
		resp.Body.Bots = make([]models.Bot, 0, len(bots))
		for _, b := range bots {
			resp.Body.Bots = append(resp.Body.Bots, *b)
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bot" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/bots/{id}",
		Summary:     "Get bot details",
		Tags:        []string{"bots"},
	}, func(ctx context.Context, input *BotInput) (*Response[models.Bot], error) {
		bot, err := svc.GetBot(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err, "Bot")
		}
		return &Response[models.Bot]{Body: *bot}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bot-heartbeat" + operationSuffix(pathPrefix),
		Method:      http.MethodPost,
		Path:        pathPrefix + "/bots/{id}/heartbeat",
		Summary:     "Record a bot heartbeat",
		Description: "Called by running bots. Requires the bot's bearer token.",
		Tags:        []string{"callbacks"},
	}, func(ctx context.Context, input *BotInput) (*Response[EmptyResponse], error) {
		if err := auth.RequireBot(ctx, input.ID); err != nil {
			return nil, toHumaError(err, "Bot")
		}
		if err := svc.RecordHeartbeat(ctx, input.ID); err != nil {
			return nil, toHumaError(err, "Bot")
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "Heartbeat recorded"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-bot-status" + operationSuffix(pathPrefix),
		Method:      http.MethodPost,
		Path:        pathPrefix + "/bots/{id}/status",
		Summary:     "Report a bot status change",
		Description: "Called by running bots. Terminal statuses release the bot's slot or workload.",
		Tags:        []string{"callbacks"},
	}, func(ctx context.Context, input *struct {
		BotInput
		Body BotStatusUpdate
	}) (*Response[models.Bot], error) {
		if err := auth.RequireBot(ctx, input.ID); err != nil {
			return nil, toHumaError(err, "Bot")
		}
		status, ok := models.ParseBotStatus(input.Body.Status)
		if !ok {
			return nil, huma.Error400BadRequest("Invalid bot status " + input.Body.Status)
		}
		bot, err := svc.UpdateBotStatus(ctx, input.ID, status, input.Body.Error)
		if err != nil {
			return nil, toHumaError(err, "Bot")
		}
		return &Response[models.Bot]{Body: *bot}, nil
	})
}

func toDeployRequest(body DeployBotRequest) (*models.DeployRequest, error) {
	platform, err := models.ParsePlatformType(body.Platform)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if body.BotID == 0 && body.MeetingURL == "" {
		return nil, huma.Error400BadRequest("meetingUrl is required")
	}
	return &models.DeployRequest{
		BotID:           body.BotID,
		MeetingPlatform: models.MeetingPlatform(body.MeetingPlatform),
		MeetingURL:      body.MeetingURL,
		BotName:         body.BotName,
		Priority:        body.Priority,
		Platform:        platform,
		Env:             body.Env,
	}, nil
}
