package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kirbu123/olimp/downloads"
)

// ResolveOptions configures remote weight resolution.
type ResolveOptions struct {
	// CacheDir is where downloaded weights are stored. Required for remote
	// references.
	CacheDir string

	// ORTSharedLibraryPath overrides the onnxruntime shared library location
	// for sessions opened over the resolved weights.
	ORTSharedLibraryPath string

	// S3 settings for s3:// references. With empty access keys the client
	// uses anonymous credentials, which is enough for public buckets.
	S3Endpoint  string // custom endpoint, e.g. a MinIO server
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// Progress receives byte counts during https downloads.
	Progress downloads.ByteProgressCallback
}

// ResolveWeights turns a weight reference into a local file path. Local paths
// are returned as-is after an existence check; http(s):// and s3:// references
// are fetched into CacheDir once and reused on later calls.
func ResolveWeights(ctx context.Context, ref string, opts ResolveOptions) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("models: empty weights reference")
	}
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return resolveHTTP(ctx, ref, opts)
	case strings.HasPrefix(ref, "s3://"):
		return resolveS3(ctx, ref, opts)
	}
	if _, err := os.Stat(ref); err != nil {
		return "", fmt.Errorf("models: weights %q: %w", ref, err)
	}
	return ref, nil
}

// cachePath names the local copy of a remote reference. The hash prefix keeps
// distinct URLs with the same basename apart.
func cachePath(cacheDir, ref string) string {
	sum := sha256.Sum256([]byte(ref))
	base := path.Base(strings.TrimSuffix(ref, "/"))
	if base == "" || base == "." || base == "/" {
		base = "weights.onnx"
	}
	return filepath.Join(cacheDir, "weights", hex.EncodeToString(sum[:6])+"-"+base)
}

func resolveHTTP(ctx context.Context, url string, opts ResolveOptions) (string, error) {
	if opts.CacheDir == "" {
		return "", fmt.Errorf("models: cache dir required to fetch %q", url)
	}
	dest := cachePath(opts.CacheDir, url)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	part := dest + ".part"
	if err := downloads.DownloadWithRetry(ctx, part, url, opts.Progress); err != nil {
		return "", fmt.Errorf("models: fetch %q: %w", url, err)
	}
	if err := os.Rename(part, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// splitS3 parses s3://bucket/key/path.
func splitS3(ref string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(ref, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("models: malformed s3 reference %q", ref)
	}
	return bucket, key, nil
}

func resolveS3(ctx context.Context, ref string, opts ResolveOptions) (string, error) {
	if opts.CacheDir == "" {
		return "", fmt.Errorf("models: cache dir required to fetch %q", ref)
	}
	dest := cachePath(opts.CacheDir, ref)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	bucket, key, err := splitS3(ref)
	if err != nil {
		return "", err
	}

	var credsProvider aws.CredentialsProvider = aws.AnonymousCredentials{}
	if opts.S3AccessKey != "" {
		credsProvider = credentials.NewStaticCredentialsProvider(
			opts.S3AccessKey, opts.S3SecretKey, "")
	}
	region := opts.S3Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credsProvider),
	)
	if err != nil {
		return "", fmt.Errorf("models: s3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("models: fetch %q: %w", ref, err)
	}
	defer obj.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, obj.Body); err != nil {
		f.Close()
		os.Remove(part)
		return "", fmt.Errorf("models: fetch %q: %w", ref, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(part, dest); err != nil {
		return "", err
	}
	return dest, nil
}
