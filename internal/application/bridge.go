package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

// TransportRouter 按联系人来源平台路由出站消息。
// 联系人查不到时走主传输层。
type TransportRouter struct {
	contacts repository.ContactRepository
	primary  transport.Sender // WhatsApp，可为 nil
	telegram transport.Sender // 可为 nil
	logger   *zap.Logger
}

// NewTransportRouter 创建出站路由
func NewTransportRouter(contacts repository.ContactRepository, primary, telegram transport.Sender, logger *zap.Logger) *TransportRouter {
	return &TransportRouter{
		contacts: contacts,
		primary:  primary,
		telegram: telegram,
		logger:   logger,
	}
}

// SendText 发送文本到联系人所在的平台
func (r *TransportRouter) SendText(ctx context.Context, address, text string) error {
	sender := r.primary

	if contact, err := r.contacts.Find(ctx, address); err == nil && contact.Platform == "telegram" {
		sender = r.telegram
	}
	if sender == nil {
		return domainErrors.Wrap(domainErrors.CodeTransportTransient, "no transport available",
			fmt.Errorf("no sender for %s", address))
	}
	return sender.SendText(ctx, address, text)
}

// OwnerNotifier 把消息送达 owner，两条传输层都试，
// 任意一条成功即算送达。
type OwnerNotifier struct {
	owner    config.OwnerConfig
	primary  transport.Sender   // 发到 owner 的规范地址
	telegram transport.Notifier // 发到 owner_chat_id
	logger   *zap.Logger
}

// NewOwnerNotifier 创建 owner 通知出口
func NewOwnerNotifier(owner config.OwnerConfig, primary transport.Sender, telegram transport.Notifier, logger *zap.Logger) *OwnerNotifier {
	return &OwnerNotifier{
		owner:    owner,
		primary:  primary,
		telegram: telegram,
		logger:   logger,
	}
}

// NotifyOwner 尽力送达。两条路都断才报错。
func (n *OwnerNotifier) NotifyOwner(ctx context.Context, text string) error {
	delivered := false

	if n.primary != nil && n.owner.Address != "" {
		if err := n.primary.SendText(ctx, n.owner.Address, text); err != nil {
			n.logger.Warn("owner 主通道送达失败", zap.Error(err))
		} else {
			delivered = true
		}
	}
	if n.telegram != nil {
		if err := n.telegram.NotifyOwner(ctx, text); err != nil {
			n.logger.Debug("owner Telegram 送达失败", zap.Error(err))
		} else {
			delivered = true
		}
	}

	if !delivered {
		return fmt.Errorf("owner unreachable on all transports")
	}
	return nil
}
