package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type Key string

const (
	ConversationCreated   Key = "conversation.created"
	ConversationUpdated   Key = "conversation.updated"
	ConversationDeleted   Key = "conversation.deleted"
	ConversationMarkRead  Key = "conversation.markRead"
	ParticipantsAdded     Key = "participants.added"
	ParticipantRemoved    Key = "participant.removed"
	TagCreated            Key = "tag.created"
	TagUpdated            Key = "tag.updated"
	TagDeleted            Key = "tag.deleted"
	TagsDeleted           Key = "tags.deleted"
	TagsAdded             Key = "tags.added"
	MessageFailed         Key = "message.failed"
	SessionEnded          Key = "session.ended"
	RequestFailed         Key = "request.failed"
	UnreadRefreshFailed   Key = "unread.refreshFailed"
	AttachmentUploadError Key = "attachment.uploadFailed"
)

type entry struct {
	key Key
	en  string
	vi  string
}

var entries = []entry{
	{ConversationCreated, "Conversation %q created", "Đã tạo cuộc hội thoại %q"},
	{ConversationUpdated, "Conversation updated", "Đã cập nhật cuộc hội thoại"},
	{ConversationDeleted, "Conversation deleted", "Đã xóa cuộc hội thoại"},
	{ConversationMarkRead, "Could not mark conversation as read", "Không thể đánh dấu cuộc hội thoại là đã đọc"},
	{ParticipantsAdded, "%d participant(s) added", "Đã thêm %d thành viên"},
	{ParticipantRemoved, "Participant removed", "Đã xóa thành viên"},
	{TagCreated, "Tag %q created", "Đã tạo thẻ %q"},
	{TagUpdated, "Tag updated", "Đã cập nhật thẻ"},
	{TagDeleted, "Tag deleted", "Đã xóa thẻ"},
	{TagsDeleted, "%d tag(s) deleted", "Đã xóa %d thẻ"},
	{TagsAdded, "Tags added to conversation", "Đã gắn thẻ cho cuộc hội thoại"},
	{MessageFailed, "Message could not be sent", "Không thể gửi tin nhắn"},
	{SessionEnded, "You were disconnected: %s", "Bạn đã bị ngắt kết nối: %s"},
	{RequestFailed, "Something went wrong, please try again", "Đã xảy ra lỗi, vui lòng thử lại"},
	{UnreadRefreshFailed, "Could not refresh unread counters", "Không thể làm mới số tin chưa đọc"},
	{AttachmentUploadError, "Attachment upload failed", "Tải tệp đính kèm thất bại"},
}

var supported = []language.Tag{language.English, language.Vietnamese}

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, e := range entries {
		_ = b.SetString(language.English, string(e.key), e.en)
		_ = b.SetString(language.Vietnamese, string(e.key), e.vi)
	}
	return b
}

// NewPrinter returns a printer for the best supported match of lang
// ("vi", "en-US", "vi-VN", ...). Unknown languages fall back to English.
func NewPrinter(lang string) *message.Printer {
	tag := language.English
	if lang != "" {
		matcher := language.NewMatcher(supported)
		_, idx, conf := matcher.Match(language.Make(lang))
		if conf != language.No {
			tag = supported[idx]
		}
	}
	return message.NewPrinter(tag, message.Catalog(newCatalog()))
}
