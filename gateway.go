package chatsync

import "context"

// ChatGateway is the remote chat backend. Implementations return raw records;
// normalization happens in the stores. Errors should be *ChatError where the
// implementation can classify them.
type ChatGateway interface {
	FetchConversations(ctx context.Context) ([]Record, error)
	FetchAdmins(ctx context.Context) ([]Record, error)
	FetchMessages(ctx context.Context, peerID string) ([]Record, error)
	SendMessage(ctx context.Context, peerID, body, imageURL string) (Record, error)
	MarkRead(ctx context.Context, peerID string) error
	DeleteMessage(ctx context.Context, messageID string) error
	BlockUser(ctx context.Context, peerID string) error
}

// MediaGateway turns local images into hosted URLs.
type MediaGateway interface {
	UploadFile(ctx context.Context, data []byte, name string) (string, error)
	UploadFromURL(ctx context.Context, url string) (string, error)
}
