package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"uplink/internal/config"
	"uplink/internal/fileutil"
)

const userAgent = "Uplink-Go/0.1.0"

// HTTPUploader streams assets to the remote media store as multipart POSTs.
type HTTPUploader struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// NewHTTPUploader builds the production uploader from configuration.
func NewHTTPUploader(cfg *config.Config) *HTTPUploader {
	timeout := time.Duration(cfg.Upload.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPUploader{
		endpoint:  cfg.Upload.Endpoint,
		authToken: cfg.Upload.AuthToken,
		client:    &http.Client{Timeout: timeout},
	}
}

type uploadResponse struct {
	ID string `json:"id"`
}

// Upload sends the payload and its metadata in a single multipart request.
// The asset is streamed, never buffered whole; progress is reported from
// bytes consumed off disk.
func (u *HTTPUploader) Upload(ctx context.Context, req Request, onProgress ProgressFunc) (string, error) {
	info, err := os.Stat(req.PayloadPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", Terminalf("payload missing from disk: %s", req.PayloadPath)
		}
		return "", MarkRetryable(fmt.Errorf("stat payload: %w", err))
	}
	if info.IsDir() {
		return "", Terminalf("payload %s is a directory", req.PayloadPath)
	}

	checksum, _, err := fileutil.HashFile(req.PayloadPath)
	if err != nil {
		return "", MarkRetryable(fmt.Errorf("hash payload: %w", err))
	}

	file, err := os.Open(req.PayloadPath)
	if err != nil {
		return "", MarkRetryable(fmt.Errorf("open payload: %w", err))
	}
	defer file.Close()

	reader := &progressReader{
		reader:     file,
		total:      info.Size(),
		onProgress: onProgress,
	}

	pipeReader, pipeWriter := io.Pipe()
	form := multipart.NewWriter(pipeWriter)
	go func() {
		pipeWriter.CloseWithError(writeForm(form, req, reader))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pipeReader)
	if err != nil {
		return "", MarkTerminal(fmt.Errorf("build upload request: %w", err))
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	// Lets the remote store reject corrupted transfers before acknowledging.
	httpReq.Header.Set("X-Payload-SHA256", checksum)
	if u.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.authToken)
	}

	if onProgress != nil {
		onProgress(0)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", MarkRetryable(fmt.Errorf("send upload: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", MarkRetryable(fmt.Errorf("decode upload response: %w", err))
	}
	if decoded.ID == "" {
		return "", MarkRetryable(errors.New("upload response missing remote id"))
	}

	if onProgress != nil {
		onProgress(1)
	}
	return decoded.ID, nil
}

func writeForm(form *multipart.Writer, req Request, payload io.Reader) error {
	for key, value := range req.Metadata {
		if err := form.WriteField(key, value); err != nil {
			return fmt.Errorf("write metadata field %q: %w", key, err)
		}
	}
	if err := form.WriteField("job_id", req.JobID); err != nil {
		return fmt.Errorf("write job id field: %w", err)
	}

	part, err := form.CreateFormFile("payload", filepath.Base(req.PayloadPath))
	if err != nil {
		return fmt.Errorf("create payload part: %w", err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return fmt.Errorf("stream payload: %w", err)
	}
	return form.Close()
}

func classifyStatus(code int, body string) error {
	msg := fmt.Sprintf("remote store returned %d", code)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return MarkRetryable(errors.New(msg))
	default:
		return MarkTerminal(errors.New(msg))
	}
}

// progressReader reports consumption of the underlying reader as a fraction
// of the known total. Callbacks are throttled by byte delta, with completion
// always reported.
type progressReader struct {
	reader     io.Reader
	total      int64
	onProgress ProgressFunc

	mu       sync.Mutex
	read     int64
	lastSent int64
}

const progressByteDelta = 256 * 1024

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 && r.onProgress != nil && r.total > 0 {
		r.mu.Lock()
		r.read += int64(n)
		done := r.read >= r.total
		if done || r.read-r.lastSent >= progressByteDelta {
			r.lastSent = r.read
			fraction := float64(r.read) / float64(r.total)
			if fraction > 1 {
				fraction = 1
			}
			r.mu.Unlock()
			r.onProgress(fraction)
			return n, err
		}
		r.mu.Unlock()
	}
	return n, err
}
