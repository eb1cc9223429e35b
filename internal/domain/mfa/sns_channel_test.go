package mfa

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type fakeSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (f *fakeSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.calls = append(f.calls, params)
	if f.publishFunc != nil {
		return f.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{}, nil
}

func TestSNSChannelSenderSendsSMSToRegisteredPhone(t *testing.T) {
	fake := &fakeSNSClient{}
	sender := newSNSChannelSenderWithClient(fake, map[string]string{"user-1": "+15551234567"}, "")

	if err := sender.SendSMS(context.Background(), "user-1", "123456"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 publish call, got %d", len(fake.calls))
	}
	if aws.ToString(fake.calls[0].PhoneNumber) != "+15551234567" {
		t.Fatalf("expected publish to registered phone number, got %v", fake.calls[0].PhoneNumber)
	}
}

func TestSNSChannelSenderRejectsUnknownPrincipalForSMS(t *testing.T) {
	fake := &fakeSNSClient{}
	sender := newSNSChannelSenderWithClient(fake, map[string]string{}, "")

	if err := sender.SendSMS(context.Background(), "nobody", "123456"); err == nil {
		t.Fatalf("expected error for unregistered principal")
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no publish call, got %d", len(fake.calls))
	}
}

func TestSNSChannelSenderSendEmailUsesTopicWithChannelAttribute(t *testing.T) {
	fake := &fakeSNSClient{}
	sender := newSNSChannelSenderWithClient(fake, nil, "arn:aws:sns:us-east-1:123456789012:mfa-notify")

	if err := sender.SendEmail(context.Background(), "user-1", "123456"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 publish call, got %d", len(fake.calls))
	}
	attr, ok := fake.calls[0].MessageAttributes["channel"]
	if !ok || aws.ToString(attr.StringValue) != "email" {
		t.Fatalf("expected channel=email message attribute, got %+v", fake.calls[0].MessageAttributes)
	}
}

func TestSNSChannelSenderSendPushRequiresTopic(t *testing.T) {
	fake := &fakeSNSClient{}
	sender := newSNSChannelSenderWithClient(fake, nil, "")

	if err := sender.SendPush(context.Background(), "user-1", "delete_resource", "challenge-1"); err == nil {
		t.Fatalf("expected error when no topic is configured")
	}
}

func TestSNSChannelSenderPropagatesPublishError(t *testing.T) {
	fake := &fakeSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	sender := newSNSChannelSenderWithClient(fake, map[string]string{"user-1": "+15551234567"}, "")

	if err := sender.SendSMS(context.Background(), "user-1", "123456"); err == nil {
		t.Fatalf("expected publish error to propagate")
	}
}
