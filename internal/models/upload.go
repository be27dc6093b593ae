package models

import "time"

// ChunkPlan описывает, на сколько частей нужно разбить файл и какого они размера.
type ChunkPlan struct {
	Total int
	Size  int64
}

// PlanChunks считает количество частей для файла заданного размера.
func PlanChunks(fileSize, chunkSize int64) ChunkPlan {
	if fileSize <= 0 || chunkSize <= 0 {
		return ChunkPlan{Total: 0, Size: chunkSize}
	}
	return ChunkPlan{
		Total: int((fileSize + chunkSize - 1) / chunkSize),
		Size:  chunkSize,
	}
}

// ExpectedSize возвращает ожидаемый размер части idx.
func (p ChunkPlan) ExpectedSize(idx int, fileSize int64) int64 {
	if idx < 0 || idx >= p.Total {
		return 0
	}
	if idx == p.Total-1 {
		return fileSize - int64(idx)*p.Size
	}
	return p.Size
}

// InitUpload — параметры открытия сессии загрузки.
type InitUpload struct {
	StorageID     string
	TargetDir     string
	FileName      string
	FileSize      int64
	MimeType      string
	ChunkSizeHint int64
	Owner         string
}

// UploadTicket возвращается клиенту после init.
type UploadTicket struct {
	SessionID   string `json:"session_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

// ChunkReceipt подтверждает запись части.
type ChunkReceipt struct {
	Index       int    `json:"index"`
	Sha256      string `json:"sha256"`
	Received    int    `json:"received"`
	TotalChunks int    `json:"total_chunks"`
}

// UploadStatus — снимок состояния сессии для возобновления загрузки.
type UploadStatus struct {
	SessionID   string    `json:"session_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	Received    []int     `json:"received_chunks"`
	Progress    float64   `json:"progress"`
	Owner       string    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileInfo описывает итоговый файл.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// UploadResult возвращается после успешной сборки файла.
type UploadResult struct {
	Path string   `json:"path"`
	File FileInfo `json:"file"`
}
