package mineru

// envelope is the wrapper every MinerU API response uses
type envelope[T any] struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	TraceID string `json:"trace_id"`
	Data    T      `json:"data"`
}

// batchUploadRequest registers files for a batch upload
type batchUploadRequest struct {
	EnableFormula bool       `json:"enable_formula"`
	EnableTable   bool       `json:"enable_table"`
	Language      string     `json:"language,omitempty"`
	ModelVersion  string     `json:"model_version,omitempty"`
	Files         []fileSpec `json:"files"`
}

type fileSpec struct {
	Name   string `json:"name"`
	IsOCR  bool   `json:"is_ocr"`
	DataID string `json:"data_id,omitempty"`
}

type batchUploadData struct {
	BatchID  string   `json:"batch_id"`
	FileURLs []string `json:"file_urls"`
}

type batchResultData struct {
	BatchID       string          `json:"batch_id"`
	ExtractResult []extractResult `json:"extract_result"`
}

type extractResult struct {
	FileName        string           `json:"file_name"`
	State           string           `json:"state"`
	ErrMsg          string           `json:"err_msg"`
	FullZipURL      string           `json:"full_zip_url"`
	ExtractProgress *extractProgress `json:"extract_progress,omitempty"`
}

type extractProgress struct {
	ExtractedPages int    `json:"extracted_pages"`
	TotalPages     int    `json:"total_pages"`
	StartTime      string `json:"start_time"`
}

// Wire values of extractResult.State
const (
	stateWaitingFile = "waiting-file"
	statePending     = "pending"
	stateRunning     = "running"
	stateConverting  = "converting"
	stateDone        = "done"
	stateFailed      = "failed"
)
