package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	logx "reelrelay/pkg/logx"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// APIError is an error answer from the downstream platform.
type APIError struct {
	Status  int
	Code    int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("downstream HTTP %d (code %d, %s): %s", e.Status, e.Code, e.Type, msg)
	}
	return fmt.Sprintf("downstream HTTP %d: %s", e.Status, msg)
}

// Facebook uploads videos to a Page through the Graph API videos edge.
type Facebook struct {
	baseURL string
	client  *http.Client
	log     logx.Logger
}

func NewFacebook(baseURL string, client *http.Client, log logx.Logger) *Facebook {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Facebook{baseURL: baseURL, client: client, log: log}
}

type graphResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Upload posts the staged file as multipart form data. The body is streamed
// from disk through a pipe, so the payload is never held in memory.
func (fb *Facebook) Upload(ctx context.Context, u Upload) (string, error) {
	endpoint := fb.baseURL + "/" + url.PathEscape(strings.TrimSpace(u.TargetID)) + "/videos"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeVideoForm(mw, u))
	}()
	defer func() {
		_ = pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := fb.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var gr graphResponse
	jsonErr := json.Unmarshal(body, &gr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || gr.Error != nil {
		ae := &APIError{Status: resp.StatusCode}
		if jsonErr == nil && gr.Error != nil {
			ae.Code, ae.Type, ae.Message = gr.Error.Code, gr.Error.Type, gr.Error.Message
		}
		return "", ae
	}
	if jsonErr != nil {
		return "", fmt.Errorf("graph response: %w", jsonErr)
	}
	fb.log.Debug("graph upload accepted", logx.String("video_id", gr.ID))
	return gr.ID, nil
}

// writeVideoForm writes the form fields then streams the file, and closes
// the multipart writer.
func writeVideoForm(mw *multipart.Writer, u Upload) error {
	if err := mw.WriteField("description", u.Caption); err != nil {
		return err
	}
	if err := mw.WriteField("access_token", u.Token); err != nil {
		return err
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("source", filepath.Base(u.Path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}
