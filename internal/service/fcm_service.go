package service

import (
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"pedix/internal/logger"
)

// Messenger is the part of *messaging.Client the service uses.
type Messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMService sends push notifications via Firebase Cloud Messaging. Each user's devices
// subscribe to the topic user_<id>, so no device tokens are stored here.
type FCMService struct {
	client Messenger
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not configured.
func NewFCMService(serviceAccountPath string) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		logger.S().Errorw("fcm_init_failed", "error", err)
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		logger.S().Errorw("fcm_messaging_client_failed", "error", err)
		return nil
	}
	return &FCMService{client: client}
}

func NewFCMServiceWith(m Messenger) *FCMService {
	return &FCMService{client: m}
}

func UserTopic(userID string) string {
	return "user_" + userID
}

// SendToUser pushes to the user's topic. All data values are converted to strings
// (FCM requires string values).
func (s *FCMService) SendToUser(ctx context.Context, userID, notifType, title, body string, data map[string]interface{}) error {
	if s == nil || userID == "" {
		return nil
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data:  stringData(notifType, data),
		Topic: UserTopic(userID),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send to %s: %w", msg.Topic, err)
	}
	return nil
}

func stringData(notifType string, data map[string]interface{}) map[string]string {
	out := map[string]string{"type": notifType}
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		case int, int64, uint:
			out[k] = fmt.Sprintf("%d", val)
		default:
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out
}
