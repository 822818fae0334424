package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
)

// ErrNoContact is returned when the recipient has no Lark identity on file
var ErrNoContact = errors.New("recipient has no lark contact")

// Messenger delivers transition notices as Lark IM messages. It implements
// port.OutboundSender.
type Messenger struct {
	messages messageCreator
	contacts port.ContactDirectory
	logger   *zap.Logger
}

// NewMessenger creates a new Lark outbound sender
func NewMessenger(sdk *SDKClient, contacts port.ContactDirectory, logger *zap.Logger) *Messenger {
	return newMessenger(sdk.messages(), contacts, logger)
}

func newMessenger(messages messageCreator, contacts port.ContactDirectory, logger *zap.Logger) *Messenger {
	return &Messenger{
		messages: messages,
		contacts: contacts,
		logger:   logger,
	}
}

// SendOutbound implements port.OutboundSender
func (m *Messenger) SendOutbound(ctx context.Context, recipientID string, n *entity.Notification) error {
	openID, err := m.contacts.ContactOf(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}
	if openID == "" {
		return fmt.Errorf("%w: %s", ErrNoContact, recipientID)
	}

	_, err = m.SendText(ctx, openID, n.Message)
	return err
}

// SendText sends a plain text message to an open_id and returns the message ID
func (m *Messenger) SendText(ctx context.Context, openID, text string) (string, error) {
	if openID == "" {
		return "", fmt.Errorf("openID cannot be empty")
	}
	if text == "" {
		return "", fmt.Errorf("content cannot be empty")
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(openID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := m.messages.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", openID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", openID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", openID))

	return messageID, nil
}

var _ port.OutboundSender = (*Messenger)(nil)
