package storage

import "fmt"

// Path conventions. Storage itself does not enforce these; every writer in
// the codebase goes through them so reads can be reconstructed from row
// data alone.

func AvatarPath(workspaceID, phoneOrContactID string) string {
	return fmt.Sprintf("avatars/%s/contacts/%s.jpg", workspaceID, phoneOrContactID)
}

func AttachmentPath(workspaceID, conversationID, messageID, filename string) string {
	return fmt.Sprintf("attachments/%s/conversations/%s/%s/%s", workspaceID, conversationID, messageID, filename)
}
