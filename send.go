package chatsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SendPipeline uploads an optional image, sends the message, appends an
// optimistic copy and refreshes both stores. One send runs at a time.
type SendPipeline struct {
	gw      ChatGateway
	media   MediaGateway
	state   *State
	convs   *ConversationStore
	threads *MessageThreadStore
	cfg     settings
	events  *emitter

	mu      sync.Mutex
	sending bool
	draft   Draft
}

// NewSendPipeline creates a pipeline. media may be nil when image attachments
// are not supported; sends with an image that needs uploading then fail.
func NewSendPipeline(gw ChatGateway, media MediaGateway, state *State, convs *ConversationStore, threads *MessageThreadStore, opts ...Option) *SendPipeline {
	cfg := newSettings(opts)
	return &SendPipeline{
		gw: gw, media: media, state: state,
		convs: convs, threads: threads,
		cfg: cfg, events: newEmitter(cfg.log),
	}
}

// Draft returns the compose state. It survives failed sends and is cleared by a
// successful one.
func (p *SendPipeline) Draft() Draft {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// SetDraft replaces the compose state.
func (p *SendPipeline) SetDraft(d Draft) {
	p.mu.Lock()
	p.draft = d
	p.mu.Unlock()
}

// Sending reports whether a send is in flight.
func (p *SendPipeline) Sending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sending
}

// Send delivers body and an optional image to peerID. It returns the optimistic
// message appended to the thread.
func (p *SendPipeline) Send(ctx context.Context, peerID, body string, image *ImageRef) (Message, error) {
	if !p.state.Authenticated() {
		p.cfg.metrics.send("login_required")
		p.events.emit(EventLoginRequired, "send")
		return Message{}, notAuthenticated("sending a message")
	}

	if err := p.acquire(peerID, body, image); err != nil {
		p.cfg.metrics.send("rejected")
		return Message{}, err
	}
	defer p.release()

	msg, err := p.deliver(ctx, peerID, body, image)
	if err != nil {
		p.cfg.metrics.send("failed")
		p.cfg.log.Warn().Err(err).Str("peer", peerID).Msg("send failed")
		p.events.emit(EventSendFailed, err)
		return Message{}, err
	}
	p.cfg.metrics.send("ok")
	return msg, nil
}

// acquire validates the input, records it as the draft and takes the
// re-entrancy guard.
func (p *SendPipeline) acquire(peerID, body string, image *ImageRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sending {
		return validationError("a message is already being sent")
	}
	p.draft = Draft{Body: body, Image: image}
	if strings.TrimSpace(peerID) == "" {
		return validationError("no conversation selected")
	}
	if strings.TrimSpace(body) == "" && image.IsZero() {
		return validationError("message is empty")
	}
	p.sending = true
	return nil
}

func (p *SendPipeline) release() {
	p.mu.Lock()
	p.sending = false
	p.mu.Unlock()
}

func (p *SendPipeline) deliver(ctx context.Context, peerID, body string, image *ImageRef) (Message, error) {
	imageURL, err := p.resolveImage(ctx, image)
	if err != nil {
		return Message{}, err
	}

	callCtx, cancel := p.cfg.callContext(ctx)
	_, err = p.gw.SendMessage(callCtx, peerID, body, imageURL)
	cancel()
	if err != nil {
		return Message{}, normalizeError(err)
	}

	p.mu.Lock()
	p.draft = Draft{}
	p.mu.Unlock()

	msg := Message{
		ID:         p.cfg.newID(),
		FromUserID: p.state.CurrentUserID(),
		ToUserID:   peerID,
		Body:       body,
		ImageURL:   imageURL,
		CreatedAt:  p.cfg.now(),
		IsRead:     false,
		Pending:    true,
	}
	p.threads.AppendOptimistic(peerID, msg)
	p.convs.ApplySent(peerID, msg)

	// The send succeeded; refresh failures are recorded by the stores.
	var g errgroup.Group
	g.Go(func() error { return p.threads.Refresh(ctx, peerID, false) })
	g.Go(func() error { return p.convs.Refresh(ctx, true) })
	if err := g.Wait(); err != nil {
		p.cfg.log.Debug().Err(err).Str("peer", peerID).Msg("refresh after send failed")
	}

	p.events.emit(EventScrollToEnd, peerID)
	return msg, nil
}

// resolveImage returns a hosted URL for image, uploading it when needed. An
// upload failure aborts the send.
func (p *SendPipeline) resolveImage(ctx context.Context, image *ImageRef) (string, error) {
	if image.IsZero() {
		return "", nil
	}
	if image.URL != "" && image.Hosted {
		return image.URL, nil
	}
	if p.media == nil {
		return "", validationError("image attachments are not supported")
	}

	callCtx, cancel := p.cfg.callContext(ctx)
	defer cancel()

	var (
		url string
		err error
	)
	switch {
	case image.URL != "":
		url, err = p.media.UploadFromURL(callCtx, image.URL)
	case len(image.Data) > 0:
		url, err = p.media.UploadFile(callCtx, image.Data, imageName(image))
	default:
		data, rerr := os.ReadFile(image.Path)
		if rerr != nil {
			return "", validationError(fmt.Sprintf("cannot read image: %v", rerr))
		}
		url, err = p.media.UploadFile(callCtx, data, imageName(image))
	}
	if err != nil {
		return "", normalizeError(err)
	}
	if url == "" {
		return "", serverError(0, "upload returned no url")
	}
	return url, nil
}

func imageName(image *ImageRef) string {
	if image.Name != "" {
		return image.Name
	}
	if image.Path != "" {
		return filepath.Base(image.Path)
	}
	return "image.jpg"
}
