package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"chatsync/pkg/chat"
)

// FetchTimeout is the client-enforced bound on history and presence
// fetches. A fetch past the deadline fails with chat.ErrTimeout and leaves
// existing state untouched.
const FetchTimeout = 10 * time.Second

// Client talks to the server's request/response surface: bulk history,
// presence snapshots, and binary uploads. The channel connection carries
// everything else.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   zerolog.Logger
}

func New(baseURL, token string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &Client{
		base:  u,
		token: token,
		http:  &http.Client{},
		log:   log,
	}, nil
}

// History fetches the full ordered message history for a room. Records that
// fail to decode individually are skipped with a warning; one bad record
// must not blank the whole view. An empty list is a valid result.
func (c *Client) History(ctx context.Context, roomID int) ([]chat.Message, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/messages/%d", roomID))
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: history response: %v", chat.ErrMalformedRecord, err)
	}

	msgs := make([]chat.Message, 0, len(raw))
	for i, r := range raw {
		var m chat.Message
		if err := json.Unmarshal(r, &m); err != nil {
			c.log.Warn().Err(err).Int("index", i).Int("room_id", roomID).Msg("skipping undecodable history record")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// OnlineUsers fetches the presence snapshot for a room.
func (c *Client) OnlineUsers(ctx context.Context, roomID int) ([]chat.User, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/online-users/%d", roomID))
	if err != nil {
		return nil, err
	}

	var users []chat.User
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("%w: presence response: %v", chat.ErrMalformedRecord, err)
	}
	return users, nil
}

// Upload is the result of pushing a binary payload to the upload service.
// The reference URL is then sent as a message of the mapped media type.
type Upload struct {
	URL      string
	Type     chat.MessageType
	FileName string
}

type uploadResponse struct {
	Success          bool   `json:"success"`
	URL              string `json:"url"`
	FileType         string `json:"file_type"`
	OriginalFilename string `json:"original_filename"`
	Error            string `json:"error"`
}

// UploadAttachment streams a file to the upload service and returns the
// reference to send as a media message.
func (c *Client) UploadAttachment(ctx context.Context, fileName string, r io.Reader) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return Upload{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}

	body, err := c.post(ctx, "/upload_attachment", mw.FormDataContentType(), &buf)
	if err != nil {
		return Upload{}, err
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Upload{}, fmt.Errorf("%w: upload response: %v", chat.ErrMalformedRecord, err)
	}
	if !resp.Success || resp.URL == "" {
		if resp.Error != "" {
			return Upload{}, fmt.Errorf("upload rejected: %s", resp.Error)
		}
		return Upload{}, errors.New("upload rejected")
	}

	mt := chat.MessageType(resp.FileType)
	if !mt.Valid() {
		mt = chat.MessageFile
	}
	name := resp.OriginalFilename
	if name == "" {
		name = fileName
	}
	return Upload{URL: resp.URL, Type: mt, FileName: name}, nil
}

// UploadAudio streams a recorded voice payload and maps it to an audio
// message reference.
func (c *Client) UploadAudio(ctx context.Context, fileName string, r io.Reader) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", fileName)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return Upload{}, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}

	body, err := c.post(ctx, "/upload_audio", mw.FormDataContentType(), &buf)
	if err != nil {
		return Upload{}, err
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Upload{}, fmt.Errorf("%w: upload response: %v", chat.ErrMalformedRecord, err)
	}
	if !resp.Success || resp.URL == "" {
		if resp.Error != "" {
			return Upload{}, fmt.Errorf("upload rejected: %s", resp.Error)
		}
		return Upload{}, errors.New("upload rejected")
	}
	return Upload{URL: resp.URL, Type: chat.MessageAudio, FileName: fileName}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, contentType, body)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if reqID, err := nanoid.New(12); err == nil {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", chat.ErrTimeout, method, path)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", chat.ErrTimeout, method, path)
		}
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return data, nil
}
