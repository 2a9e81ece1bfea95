package whatsapp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/provider"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// ParseTarget accepts a full JID or a bare phone number, which is
// addressed on the user server.
func ParseTarget(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, provider.ErrInvalidTarget
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, errors.Wrap(provider.ErrInvalidTarget, err.Error())
		}
		return jid, nil
	}
	user := strings.TrimPrefix(to, "+")
	if user == "" {
		return types.JID{}, errors.Wrapf(provider.ErrInvalidTarget, "%q is not a phone number", to)
	}
	for _, r := range user {
		if r < '0' || r > '9' {
			return types.JID{}, errors.Wrapf(provider.ErrInvalidTarget, "%q is not a phone number", to)
		}
	}
	return types.NewJID(user, types.DefaultUserServer), nil
}

func (s *socket) buildMessage(ctx context.Context, content provider.OutboundContent) (*waE2E.Message, error) {
	if content.Media == nil {
		return &waE2E.Message{Conversation: proto.String(content.Text)}, nil
	}
	appInfo, err := uploadKind(content.Media.Type)
	if err != nil {
		return nil, err
	}
	data, err := s.provider.fetchMedia(ctx, content.Media.URL)
	if err != nil {
		return nil, err
	}
	mime := mimetype.Detect(data).String()
	up, err := s.client.Upload(ctx, data, appInfo)
	if err != nil {
		return nil, errors.Wrap(err, "upload media")
	}
	return mediaMessage(content.Media, content.Text, mime, up), nil
}

func uploadKind(t provider.MediaType) (whatsmeow.MediaType, error) {
	switch t {
	case provider.MediaImage:
		return whatsmeow.MediaImage, nil
	case provider.MediaVideo:
		return whatsmeow.MediaVideo, nil
	case provider.MediaAudio:
		return whatsmeow.MediaAudio, nil
	case provider.MediaDocument:
		return whatsmeow.MediaDocument, nil
	}
	return "", errors.Errorf("unsupported media type %q", t)
}

func mediaMessage(media *provider.OutboundMedia, caption, mime string, up whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Type {
	case provider.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case provider.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case provider.MediaAudio:
		// audio carries no caption
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			FileName:      proto.String(fileName(media.URL)),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

func fileName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "file"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func (p *Provider) fetchMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	resp, err := gout.New(p.http).
		GET(mediaURL).
		WithContext(ctx).
		Response()
	if err != nil {
		return nil, errors.Wrap(err, "fetch media")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch media: %s answered %d", mediaURL, resp.StatusCode)
	}
	limit := p.opts.MaxMediaBytes
	if resp.ContentLength > limit {
		return nil, errors.Errorf("fetch media: %d bytes exceeds limit of %d", resp.ContentLength, limit)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read media")
	}
	if int64(len(body)) > limit {
		return nil, errors.Errorf("fetch media: body exceeds limit of %d bytes", limit)
	}
	if len(body) == 0 {
		return nil, errors.New("fetch media: empty body")
	}
	return body, nil
}
