package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dypnsapi "github.com/alibabacloud-go/dypnsapi-20170525/v3/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
)

// Sender delivers a one-time login code to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// AliyunConfig configures the Aliyun SMS verify-code channel.
type AliyunConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	SignName        string
	TemplateCode    string
}

// AliyunSender sends OTP codes through the Aliyun dypnsapi verify-code API.
type AliyunSender struct {
	client       *dypnsapi.Client
	signName     string
	templateCode string
}

func NewAliyunSender(cfg AliyunConfig) (*AliyunSender, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("sms sender requires aliyun credentials")
	}
	if cfg.SignName == "" || cfg.TemplateCode == "" {
		return nil, errors.New("sms sender requires sign name and template code")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "dypnsapi.aliyuncs.com"
	}
	client, err := dypnsapi.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("new sms client: %w", err)
	}
	return &AliyunSender{
		client:       client,
		signName:     cfg.SignName,
		templateCode: cfg.TemplateCode,
	}, nil
}

func (s *AliyunSender) Send(ctx context.Context, phone, code string) error {
	req := &dypnsapi.SendSmsVerifyCodeRequest{
		PhoneNumber:   tea.String(phone),
		SignName:      tea.String(s.signName),
		TemplateCode:  tea.String(s.templateCode),
		TemplateParam: tea.String(fmt.Sprintf(`{"code":"%s"}`, code)),
	}
	resp, err := s.client.SendSmsVerifyCodeWithOptions(req, &util.RuntimeOptions{})
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp == nil || resp.Body == nil {
		return errors.New("send sms: empty response")
	}
	if got := tea.StringValue(resp.Body.Code); !strings.EqualFold(got, "OK") {
		return fmt.Errorf("send sms: %s: %s", got, tea.StringValue(resp.Body.Message))
	}
	return nil
}

// NoopSender drops codes; used when debug mode returns codes in the response.
type NoopSender struct{}

func (NoopSender) Send(context.Context, string, string) error { return nil }
