// Package driveclient — HTTP-клиент протокола возобновляемой загрузки и удалённых скачиваний.
package driveclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sir_venger/drive_lite/internal/models"
	"github.com/sir_venger/drive_lite/pkg/driveproto"
)

// APIError — ответ сервера с кодом не из 2xx.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive: %d %s", e.Status, e.Message)
}

// IsStatus сообщает, что err — ответ сервера с данным кодом.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == code
}

type Client struct {
	baseURL string
	token   string
	c       *http.Client
	// Progress — куда рисовать индикатор выполнения; nil отключает его.
	Progress io.Writer
}

// New создаёт клиента для сервера baseURL. Пустой token — без авторизации.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		c:       &http.Client{},
	}
}

func (c *Client) Init(ctx context.Context, storageID string, req driveproto.InitRequest) (models.UploadTicket, error) {
	var out models.UploadTicket
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf(driveproto.UploadsPathFormat, c.baseURL, url.PathEscape(storageID)), req, &out)
	return out, err
}

// PutChunk отправляет одну часть вместе с её SHA-256.
func (c *Client) PutChunk(ctx context.Context, sessionID string, index int, chunk []byte) (models.ChunkReceipt, error) {
	sum := sha256.Sum256(chunk)
	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf(driveproto.ChunkPathFormat, c.baseURL, sessionID, index), bytes.NewReader(chunk))
	if err != nil {
		return models.ChunkReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(driveproto.HeaderChecksum, hex.EncodeToString(sum[:]))

	var out models.ChunkReceipt
	return out, c.send(req, &out)
}

func (c *Client) Status(ctx context.Context, sessionID string) (models.UploadStatus, error) {
	var out models.UploadStatus
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf(driveproto.UploadPathFormat, c.baseURL, sessionID), nil, &out)
	return out, err
}

func (c *Client) Complete(ctx context.Context, sessionID string) (models.UploadResult, error) {
	var out models.UploadResult
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf(driveproto.CompletePathFormat, c.baseURL, sessionID), nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf(driveproto.UploadPathFormat, c.baseURL, sessionID), nil, nil)
}

// UploadOptions — параметры загрузки локального файла.
type UploadOptions struct {
	StorageID string
	Dir       string
	// Name — имя на сервере; по умолчанию базовое имя локального файла.
	Name      string
	ChunkSize int64
	// SessionID продолжает уже открытую сессию: отправляются только недостающие части.
	SessionID string
}

// UploadFile загружает локальный файл частями и собирает его на сервере.
func (c *Client) UploadFile(ctx context.Context, localPath string, opts UploadOptions) (models.UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return models.UploadResult{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return models.UploadResult{}, err
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(localPath)
	}

	have := map[int]struct{}{}
	var ticket models.UploadTicket
	if opts.SessionID != "" {
		st, err := c.Status(ctx, opts.SessionID)
		if err != nil {
			return models.UploadResult{}, err
		}
		ticket = models.UploadTicket{SessionID: st.SessionID, ChunkSize: st.ChunkSize, TotalChunks: st.TotalChunks}
		for _, idx := range st.Received {
			have[idx] = struct{}{}
		}
	} else {
		ticket, err = c.Init(ctx, opts.StorageID, driveproto.InitRequest{
			FileName:  name,
			FileSize:  fi.Size(),
			MimeType:  mime.TypeByExtension(filepath.Ext(name)),
			Path:      opts.Dir,
			ChunkSize: opts.ChunkSize,
		})
		if err != nil {
			return models.UploadResult{}, err
		}
	}

	bar := newProgressBar(c.Progress, fmt.Sprintf("Uploading %s", name), fi.Size())
	buf := make([]byte, ticket.ChunkSize)
	for idx := 0; idx < ticket.TotalChunks; idx++ {
		off := int64(idx) * ticket.ChunkSize
		n, err := f.ReadAt(buf, off)
		if err != nil && !errors.Is(err, io.EOF) {
			bar.Fail(err)
			return models.UploadResult{}, err
		}
		if _, ok := have[idx]; !ok {
			if _, err := c.PutChunk(ctx, ticket.SessionID, idx, buf[:n]); err != nil {
				bar.Fail(err)
				return models.UploadResult{}, fmt.Errorf("chunk %d of session %s: %w", idx, ticket.SessionID, err)
			}
		}
		bar.AddBytes(int64(n))
	}

	res, err := c.Complete(ctx, ticket.SessionID)
	if err != nil {
		bar.Fail(err)
		return models.UploadResult{}, err
	}
	bar.Finish()
	return res, nil
}

func (c *Client) Enqueue(ctx context.Context, storageID, dir string, urls []string) ([]string, error) {
	var out driveproto.EnqueueResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf(driveproto.RemotePathFormat, c.baseURL, url.PathEscape(storageID)),
		driveproto.EnqueueRequest{Path: dir, URLs: urls}, &out)
	return out.TaskIDs, err
}

func (c *Client) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.RemoteTask, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.StorageID != "" {
		q.Set("storage", filter.StorageID)
	}
	if filter.TargetDir != "" {
		q.Set("path", filter.TargetDir)
	}
	u := fmt.Sprintf(driveproto.TasksPathFormat, c.baseURL)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var out []models.RemoteTask
	return out, c.doJSON(ctx, http.MethodGet, u, nil, &out)
}

func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf(driveproto.TaskPathFormat, c.baseURL, taskID), nil, nil)
}

func (c *Client) Clear(ctx context.Context) (int, error) {
	var out driveproto.ClearResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf(driveproto.ClearPathFormat, c.baseURL), nil, &out)
	return out.Removed, err
}

// GC запускает внеочередную уборку просроченных сессий загрузки.
func (c *Client) GC(ctx context.Context) (int, error) {
	var out driveproto.GCResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf(driveproto.GCPathFormat, c.baseURL), nil, &out)
	return out.Removed, err
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
