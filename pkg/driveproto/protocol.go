// Package driveproto описывает HTTP-протокол загрузок и удалённых скачиваний.
package driveproto

// Маршруты и заголовки, общие для сервера и клиента.
const (
	UploadsPathFormat  = "%s/api/storages/%s/uploads"
	UploadPathFormat   = "%s/api/uploads/%s"
	ChunkPathFormat    = "%s/api/uploads/%s/chunks/%d"
	CompletePathFormat = "%s/api/uploads/%s/complete"
	RemotePathFormat   = "%s/api/storages/%s/remote"
	TasksPathFormat    = "%s/api/remote"
	TaskPathFormat     = "%s/api/remote/%s"
	ClearPathFormat    = "%s/api/remote/clear"
	GCPathFormat       = "%s/admin/gc"

	HeaderChecksum = "X-Checksum-Sha256"
	HeaderFileName = "X-File-Name"
)

// InitRequest — тело POST /api/storages/{storageID}/uploads.
type InitRequest struct {
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type"`
	Path      string `json:"path"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
}

// EnqueueRequest — тело POST /api/storages/{storageID}/remote.
type EnqueueRequest struct {
	Path string   `json:"path"`
	URLs []string `json:"urls"`
}

// EnqueueResponse — идентификаторы созданных задач.
type EnqueueResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// ClearResponse — сколько задач убрано.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ExtractRequest — тело POST .../archive/extract.
type ExtractRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// CompressRequest — тело POST .../archive/compress.
type CompressRequest struct {
	Path        string   `json:"path"`
	Names       []string `json:"names"`
	ArchiveName string   `json:"archive_name"`
}

// PathResponse — относительный путь результата.
type PathResponse struct {
	Path string `json:"path"`
}

// GCResponse — сколько просроченных сессий удалил ручной GC.
type GCResponse struct {
	Removed int `json:"removed"`
}
