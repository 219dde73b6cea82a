package models

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseModelKind(t *testing.T) {
	for _, s := range []string{"standard", "vae"} {
		if _, err := ParseModelKind(s); err != nil {
			t.Errorf("ParseModelKind(%q) error = %v", s, err)
		}
	}
	if _, err := ParseModelKind("gan"); err == nil {
		t.Error("ParseModelKind accepted an unknown kind")
	}
}

func TestResolveWeightsLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(p, []byte("weights"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ResolveWeights(context.Background(), p, ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("ResolveWeights = %q; want %q", got, p)
	}

	if _, err := ResolveWeights(context.Background(), filepath.Join(dir, "missing.onnx"), ResolveOptions{}); err == nil {
		t.Error("ResolveWeights accepted a missing local path")
	}
	if _, err := ResolveWeights(context.Background(), "", ResolveOptions{}); err == nil {
		t.Error("ResolveWeights accepted an empty reference")
	}
}

func TestResolveWeightsHTTP(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "onnx-bytes")
	}))
	defer srv.Close()

	cache := t.TempDir()
	opts := ResolveOptions{CacheDir: cache}
	url := srv.URL + "/weights/vdsr.onnx"

	p, err := ResolveWeights(context.Background(), url, opts)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "onnx-bytes" {
		t.Errorf("cached content = %q; want %q", data, "onnx-bytes")
	}
	if !strings.HasSuffix(p, "vdsr.onnx") {
		t.Errorf("cache path %q does not keep the basename", p)
	}

	// second resolve hits the cache, not the server
	again, err := ResolveWeights(context.Background(), url, opts)
	if err != nil {
		t.Fatal(err)
	}
	if again != p {
		t.Errorf("second resolve = %q; want %q", again, p)
	}
	if hits != 1 {
		t.Errorf("server hit %d times; want 1", hits)
	}
}

func TestResolveWeightsRequiresCacheDir(t *testing.T) {
	if _, err := ResolveWeights(context.Background(), "https://example.com/m.onnx", ResolveOptions{}); err == nil {
		t.Error("http resolve without a cache dir did not fail")
	}
	if _, err := ResolveWeights(context.Background(), "s3://bucket/m.onnx", ResolveOptions{}); err == nil {
		t.Error("s3 resolve without a cache dir did not fail")
	}
}

func TestSplitS3(t *testing.T) {
	bucket, key, err := splitS3("s3://models/precomp/unet_b0.onnx")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "models" || key != "precomp/unet_b0.onnx" {
		t.Errorf("splitS3 = %q, %q", bucket, key)
	}
	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/"} {
		if _, _, err := splitS3(bad); err == nil {
			t.Errorf("splitS3(%q) accepted a malformed reference", bad)
		}
	}
}

func TestCachePathDistinguishesURLs(t *testing.T) {
	a := cachePath("/cache", "https://a.example/m.onnx")
	b := cachePath("/cache", "https://b.example/m.onnx")
	if a == b {
		t.Error("different URLs with the same basename share a cache path")
	}
}
