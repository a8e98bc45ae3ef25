package tool

import (
	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
)

// Deps 固定工具集的依赖
type Deps struct {
	Contacts repository.ContactRepository
	Logs     repository.MessageLogRepository
	Profiles repository.ProfileRepository
	Calendar CalendarService
	Queue    QueueInspector
	Pool     PoolInspector
	Search   SearchClient // 可为 nil
	Logger   *zap.Logger
}

// RegisterAll 注册全部固定工具
func RegisterAll(registry domaintool.Registry, deps Deps) error {
	tools := []domaintool.Tool{
		NewUpdateContactInfoTool(deps.Contacts, deps.Logger),
		NewSearchMessagesTool(deps.Logs),
		NewSearchAllConversationsTool(deps.Logs, deps.Contacts),
		NewGetRecentConversationsTool(deps.Logs, deps.Contacts),
		NewGetDailySummaryTool(deps.Logs, deps.Contacts),
		NewGetSystemStatusTool(deps.Queue, deps.Pool, deps.Contacts),
		NewGetAnalyticsTool(deps.Logs, deps.Contacts, deps.Queue),
		NewGetCurrentTimeTool(deps.Profiles),
		NewCheckScheduleTool(deps.Calendar),
		NewCheckAvailabilityTool(deps.Calendar),
		NewScheduleMeetingTool(deps.Calendar),
		NewBrowseURLTool(),
		NewSearchWebTool(deps.Search),
	}

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}
