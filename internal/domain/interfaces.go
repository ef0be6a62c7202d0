package domain

import "context"

// UploadLocation is the remote service's answer to an upload request
type UploadLocation struct {
	BatchID   string
	UploadURL string
}

// Transport is the boundary to the remote conversion API.
//
// Implementations must be safe for concurrent use. Rejections by the remote
// service are reported as *RemoteError, undecodable bodies wrap
// ErrMalformedResponse, and an unconfigured client returns ErrServiceDisabled
// without touching the network.
type Transport interface {
	// Available reports whether an endpoint and credential are configured
	Available() bool

	// RequestUploadLocation registers a file and returns where to PUT its bytes
	RequestUploadLocation(ctx context.Context, fileName string) (*UploadLocation, error)

	// UploadBytes PUTs the document to a location from RequestUploadLocation
	UploadBytes(ctx context.Context, uploadURL string, data []byte) error

	// QueryStatus reports the current state of a batch
	QueryStatus(ctx context.Context, batchID string) (JobStatus, error)

	// DownloadResult fetches the result container behind a Done locator
	DownloadResult(ctx context.Context, locator string) ([]byte, error)
}
