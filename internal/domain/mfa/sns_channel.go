package mfa

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsAPI is the subset of the SNS client SNSChannelSender calls, narrowed
// for testability with a mock.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannelSender delivers MFA challenge codes over AWS SNS: SMS codes go
// by direct phone-number publish, email and push codes go to a shared
// topic with a "channel" message attribute so subscribers (an email
// subscription, a push-notification Lambda) can filter to the delivery
// they handle.
type SNSChannelSender struct {
	client       snsAPI
	phoneNumbers map[string]string // principalID -> E.164 phone number
	topicARN     string
}

// NewSNSChannelSender creates an SNSChannelSender using the given AWS
// configuration. phoneNumbers maps principal IDs to E.164 numbers for
// SendSMS; topicARN is the shared topic SendEmail/SendPush publish to.
func NewSNSChannelSender(cfg aws.Config, phoneNumbers map[string]string, topicARN string) *SNSChannelSender {
	return &SNSChannelSender{
		client:       sns.NewFromConfig(cfg),
		phoneNumbers: phoneNumbers,
		topicARN:     topicARN,
	}
}

// newSNSChannelSenderWithClient builds an SNSChannelSender over a caller-
// supplied client, for testing against a mock.
func newSNSChannelSenderWithClient(client snsAPI, phoneNumbers map[string]string, topicARN string) *SNSChannelSender {
	return &SNSChannelSender{client: client, phoneNumbers: phoneNumbers, topicARN: topicARN}
}

// SendSMS publishes code directly to the principal's registered phone
// number as a transactional SMS.
func (s *SNSChannelSender) SendSMS(ctx context.Context, principalID, code string) error {
	phone, ok := s.phoneNumbers[principalID]
	if !ok {
		return fmt.Errorf("mfa: no phone number registered for principal %q", principalID)
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(fmt.Sprintf("Your verification code is %s", code)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("mfa: sns sms publish: %w", err)
	}
	return nil
}

// SendEmail publishes code to the shared topic with channel=email, for an
// email subscription on that topic to deliver.
func (s *SNSChannelSender) SendEmail(ctx context.Context, principalID, code string) error {
	return s.publishToTopic(ctx, "email", fmt.Sprintf("Your verification code is %s", code), principalID)
}

// SendPush publishes a push-approval prompt to the shared topic with
// channel=push, for a push-notification subscriber on that topic to
// deliver.
func (s *SNSChannelSender) SendPush(ctx context.Context, principalID, action, challengeID string) error {
	message := fmt.Sprintf("Approve %s for %s? Challenge %s", action, principalID, challengeID)
	return s.publishToTopic(ctx, "push", message, principalID)
}

func (s *SNSChannelSender) publishToTopic(ctx context.Context, channel, message, principalID string) error {
	if s.topicARN == "" {
		return fmt.Errorf("mfa: no sns topic configured for channel %q", channel)
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(channel),
			},
			"principal_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(principalID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("mfa: sns topic publish (%s): %w", channel, err)
	}
	return nil
}

var _ ChannelSender = (*SNSChannelSender)(nil)
