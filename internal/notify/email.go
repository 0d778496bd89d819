package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cartsentry/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailGateway 通过 SMTP 投递提醒邮件。
type EmailGateway struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailGateway 创建邮件网关。
func NewEmailGateway(cfg *config.EmailConfig, logger *slog.Logger) *EmailGateway {
	return &EmailGateway{cfg: cfg, logger: logger}
}

// Deliver 发送提醒邮件。配置不全时记录日志并静默跳过。
func (g *EmailGateway) Deliver(ctx context.Context, alert Alert) error {
	if g.cfg.SMTPHost == "" || g.cfg.SMTPUser == "" || g.cfg.FromEmail == "" {
		g.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(g.cfg.ToEmail) == "" {
		g.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", g.cfg.FromEmail)
	m.SetHeader("To", g.cfg.ToEmail)
	m.SetHeader("Subject", "[cartsentry] "+alert.Title)
	m.SetBody("text/html", g.buildHTMLBody(alert))

	d := gomail.NewDialer(g.cfg.SMTPHost, g.cfg.SMTPPort, g.cfg.SMTPUser, g.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	g.logger.Info("email notification sent",
		slog.String("to", g.cfg.ToEmail),
		slog.String("kind", alert.Kind))
	return nil
}

func (g *EmailGateway) buildHTMLBody(alert Alert) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb;">
    <div style="background: #0f172a; color: #ffffff; padding: 16px 20px; font-weight: bold;">%s</div>
    <div style="padding: 20px;">
      <p>%s</p>
      <div style="margin-top: 20px; font-size: 12px; color: #6b7280;">kind: %s</div>
    </div>
  </div>
</body>
</html>`, alert.Title, alert.Body, alert.Kind)
}
