package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"bookdesk/internal/domain/message"
	"bookdesk/internal/proxy"
	"bookdesk/internal/storage"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/google/uuid"
)

// AttachmentService hands out presigned upload URLs for message attachments.
type AttachmentService struct {
	access  *proxy.AccessControl
	storage *storage.Client
}

type PresignInput struct {
	ConversationID uuid.UUID
	FileName       string
	ContentType    string
	FileSize       int64
}

type PresignResult struct {
	UploadURL  string             `json:"uploadUrl"`
	UploadKey  string             `json:"uploadKey"`
	Headers    map[string]string  `json:"headers"`
	Attachment message.Attachment `json:"attachment"`
}

func NewAttachmentService(access *proxy.AccessControl, storage *storage.Client) *AttachmentService {
	return &AttachmentService{access: access, storage: storage}
}

// CreatePresignedUpload returns the upload URL and the attachment value to
// send once the upload finished. Only participants may attach files.
func (s *AttachmentService) CreatePresignedUpload(ctx context.Context, in PresignInput) (PresignResult, error) {
	if s.storage == nil {
		return PresignResult{}, bookdesk_errors.Wrap(bookdesk_errors.CodeServiceUnavailable, storage.ErrNotConfigured, "attachments disabled")
	}
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return PresignResult{}, err
	}
	name := strings.TrimSpace(in.FileName)
	if in.ConversationID == uuid.Nil || name == "" || in.FileSize <= 0 {
		return PresignResult{}, bookdesk_errors.Validation("conversation, file name and size are required")
	}
	if in.FileSize > storage.MaxAttachmentBytes {
		return PresignResult{}, bookdesk_errors.Validation("attachment exceeds %d bytes", storage.MaxAttachmentBytes)
	}
	kind, err := storage.AttachmentKind(in.ContentType)
	if err != nil {
		return PresignResult{}, bookdesk_errors.Validation("%v", err)
	}
	if _, err := s.access.CanSendMessage(ctx, caller.UserID, in.ConversationID); err != nil {
		return PresignResult{}, err
	}

	key := attachmentKey(in.ConversationID, name)
	url, headers, err := s.storage.PresignPut(ctx, key, in.ContentType, in.FileSize)
	if err != nil {
		return PresignResult{}, bookdesk_errors.Wrap(bookdesk_errors.CodeServiceUnavailable, err, "presign attachment")
	}
	return PresignResult{
		UploadURL: url,
		UploadKey: key,
		Headers:   headers,
		Attachment: message.Attachment{
			Type: kind,
			URL:  s.storage.FileURL(key),
			Name: name,
		},
	}, nil
}

func attachmentKey(conversationID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("attachments/%s/%s%s", conversationID, uuid.NewString(), ext)
}
