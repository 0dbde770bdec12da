package api

import (
	"context"
	"fmt"
	"inboxsync/internal/models"
	"net/http"
	"strconv"
)

func (c *Client) ListParticipants(ctx context.Context, id models.ConversationID) ([]models.Participant, error) {
	var list []models.Participant
	if _, err := c.do(ctx, request{method: http.MethodGet, path: conversationPath(id, "/participants")}, &list); err != nil {
		return nil, fmt.Errorf("list participants of %d: %w", id, err)
	}
	return list, nil
}

func (c *Client) AddParticipants(ctx context.Context, id models.ConversationID, in []ParticipantInput) ([]models.Participant, error) {
	body := struct {
		Participants []ParticipantInput `json:"participants"`
	}{Participants: in}

	var list []models.Participant
	if _, err := c.do(ctx, request{method: http.MethodPost, path: conversationPath(id, "/participants"), body: body}, &list); err != nil {
		return nil, fmt.Errorf("add participants to %d: %w", id, err)
	}
	return list, nil
}

func (c *Client) RemoveParticipant(ctx context.Context, id models.ConversationID, participantID int64) error {
	path := conversationPath(id, "/participants/", strconv.FormatInt(participantID, 10))
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: path}, nil); err != nil {
		return fmt.Errorf("remove participant %d from %d: %w", participantID, id, err)
	}
	return nil
}
