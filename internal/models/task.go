package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus — состояние задачи удалённой загрузки.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskDownloading TaskStatus = "downloading"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskCancelled   TaskStatus = "cancelled"
)

// Terminal сообщает, что воркер больше не изменит статус.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ParseTaskStatus разбирает статус из строки запроса.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TaskPending, TaskDownloading, TaskCompleted, TaskFailed, TaskCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown task status %q", ErrInvalidArgument, s)
	}
}

// RemoteTask — снимок задачи, отдаваемый наружу.
type RemoteTask struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	StorageID  string     `json:"storage_id"`
	TargetDir  string     `json:"target_dir"`
	FileName   string     `json:"file_name"`
	Status     TaskStatus `json:"status"`
	Downloaded int64      `json:"downloaded"`
	Total      *int64     `json:"total,omitempty"`
	Speed      int64      `json:"speed"`
	Error      string     `json:"error,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TaskFilter ограничивает выборку list.
type TaskFilter struct {
	Status    TaskStatus
	StorageID string
	TargetDir string
}

// EnqueueRequest — параметры постановки удалённых загрузок.
type EnqueueRequest struct {
	StorageID string
	TargetDir string
	URLs      []string
	Owner     string
}
