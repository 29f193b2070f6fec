package ws

import "github.com/Yangjianxun1998/convert/internal/domain"

const (
	actionConvert        = "convert"
	actionCancel         = "cancel"
	actionCheckFFmpeg    = "check_ffmpeg"
	actionUpload         = "upload"
	actionUploadChunk    = "upload_chunk"
	actionUploadComplete = "upload_complete"
)

// request is the flat inbound message envelope; which fields are meaningful
// depends on the action.
type request struct {
	Action     string                `json:"action"`
	InputFile  string                `json:"input_file,omitempty"`
	OutputFile string                `json:"output_file,omitempty"`
	Options    domain.ConvertOptions `json:"options,omitempty"`
	TaskID     string                `json:"task_id,omitempty"`
	FileName   string                `json:"file_name,omitempty"`
	FileSize   int64                 `json:"file_size,omitempty"`
	UploadID   string                `json:"upload_id,omitempty"`
	Offset     int64                 `json:"offset,omitempty"`
	Chunk      string                `json:"chunk,omitempty"`
}

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type noticeResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type taskStartedResponse struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type taskCancelledResponse struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type progressResponse struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
	domain.ProgressEvent
}

type ffmpegCheckResponse struct {
	Type      string `json:"type"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

type uploadInitResponse struct {
	Type     string `json:"type"`
	UploadID string `json:"upload_id"`
	Message  string `json:"message"`
}

type uploadProgressResponse struct {
	Type     string `json:"type"`
	UploadID string `json:"upload_id"`
	Progress int    `json:"progress"`
	Uploaded int64  `json:"uploaded"`
	Total    int64  `json:"total"`
}

type uploadCompleteResponse struct {
	Type     string `json:"type"`
	UploadID string `json:"upload_id"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}
