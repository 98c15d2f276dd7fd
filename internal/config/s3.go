package config

// S3Config locates the bucket holding profile pictures. Endpoint is optional
// and points the client at an S3-compatible server (MinIO, localstack).
// An empty Bucket disables uploads.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
	MaxUploadBytes  int64
}

func LoadS3Config() S3Config {
	return S3Config{
		Bucket:          getenv("S3_BUCKET", ""),
		Region:          getenv("S3_REGION", "us-east-1"),
		Endpoint:        getenv("S3_ENDPOINT", ""),
		AccessKeyID:     getenv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    envBool("S3_USE_PATH_STYLE", false),
		PublicBaseURL:   getenv("S3_PUBLIC_BASE_URL", ""),
		MaxUploadBytes:  int64(envInt("S3_MAX_UPLOAD_BYTES", 2<<20)),
	}
}
