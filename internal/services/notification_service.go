// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/serialkey-backend/internal/config"
	"github.com/javajoker/serialkey-backend/internal/metrics"
)

type AlertCategory string

const (
	AlertDeviceConflict AlertCategory = "device_conflict"
	AlertDeviceMismatch AlertCategory = "device_mismatch"
	AlertActivation     AlertCategory = "activation"
	AlertRevocation     AlertCategory = "revocation"
	AlertTransfer       AlertCategory = "transfer"
	AlertOrderAssigned  AlertCategory = "order_assigned"
)

// Notifier delivers an operator-facing message.
type Notifier interface {
	Notify(ctx context.Context, category AlertCategory, message string) error
}

// NewNotifierFromConfig builds a notifier from every configured sink. When no
// sink is configured, alerts are written to the log only.
func NewNotifierFromConfig(cfg config.AlertingConfig) (Notifier, error) {
	var sinks MultiNotifier

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		sinks = append(sinks, NewTelegramNotifier(cfg.Telegram, &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}))
	}

	if cfg.Email.SMTPHost != "" && cfg.Email.AlertEmail != "" {
		sinks = append(sinks, NewEmailNotifier(cfg.Email))
	}

	if cfg.SNS.TopicARN != "" {
		notifier, err := NewSNSNotifier(cfg.SNS)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notifier)
	}

	if len(sinks) == 0 {
		logrus.Warn("No alert sink configured, alerts will only be logged")
		return LogNotifier{}, nil
	}
	return sinks, nil
}

// MultiNotifier fans a message out to every sink and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, category AlertCategory, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, category, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, category AlertCategory, message string) error {
	logrus.WithField("category", category).Info(message)
	return nil
}

// Telegram
type TelegramNotifier struct {
	client   *http.Client
	apiURL   string
	botToken string
	chatID   string
}

func NewTelegramNotifier(cfg config.TelegramConfig, client *http.Client) *TelegramNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramNotifier{
		client:   client,
		apiURL:   strings.TrimRight(cfg.APIURL, "/"),
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, category AlertCategory, message string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    formatAlert(category, message),
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram request invalid: %w", withoutURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", withoutURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// withoutURL drops the request URL, which carries the bot token, from err.
func withoutURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// Email
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailNotifier struct {
	cfg      config.EmailConfig
	sendMail sendMailFunc
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, sendMail: smtp.SendMail}
}

func (n *EmailNotifier) Notify(ctx context.Context, category AlertCategory, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}

	subject := fmt.Sprintf("[Serial Key] %s", category)
	msg := []byte(fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		n.cfg.FromName, n.cfg.FromEmail, n.cfg.AlertEmail, subject, message))

	addr := fmt.Sprintf("%s:%s", n.cfg.SMTPHost, n.cfg.SMTPPort)
	return n.sendMail(addr, auth, n.cfg.FromEmail, []string{n.cfg.AlertEmail}, msg)
}

// SNS
type SNSNotifier struct {
	client   snsiface.SNSAPI
	topicARN string
}

func NewSNSNotifier(cfg config.SNSConfig) (*SNSNotifier, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &SNSNotifier{client: sns.New(sess), topicARN: cfg.TopicARN}, nil
}

func (n *SNSNotifier) Notify(ctx context.Context, category AlertCategory, message string) error {
	_, err := n.client.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(fmt.Sprintf("Serial key %s", category)),
		Message:  aws.String(message),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"category": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(category)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}
	return nil
}

func formatAlert(category AlertCategory, message string) string {
	switch category {
	case AlertDeviceConflict, AlertDeviceMismatch:
		return "[ALERT] " + message
	default:
		return message
	}
}

// AlertDispatcher sends notifications in the background. Delivery failures
// are logged and counted, never returned to the caller.
type AlertDispatcher struct {
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewAlertDispatcher(notifier Notifier, timeout time.Duration, m *metrics.Metrics) *AlertDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlertDispatcher{
		notifier: notifier,
		timeout:  timeout,
		metrics:  m,
	}
}

func (d *AlertDispatcher) Dispatch(category AlertCategory, message string) {
	if d == nil || d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"category": category,
					"panic":    r,
				}).Error("Alert notifier panicked")
				d.metrics.RecordAlert(string(category), "failed")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, category, message); err != nil {
			logrus.WithError(err).WithField("category", category).Error("Failed to deliver alert")
			d.metrics.RecordAlert(string(category), "failed")
			return
		}
		d.metrics.RecordAlert(string(category), "sent")
	}()
}

// Wait blocks until every dispatched alert has finished.
func (d *AlertDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
