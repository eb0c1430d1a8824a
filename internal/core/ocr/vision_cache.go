package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// cachedAnnotator keeps Vision responses on disk as protojson, keyed by the
// request content, so re-running OCR on a stored document is not billed twice.
type cachedAnnotator struct {
	next   annotator
	dir    string
	logger *slog.Logger
}

func newCachedAnnotator(next annotator, dir string, logger *slog.Logger) *cachedAnnotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedAnnotator{next: next, dir: dir, logger: logger}
}

func (c *cachedAnnotator) AnnotateImage(ctx context.Context, content []byte) (*visionpb.AnnotateImageResponse, error) {
	key := cacheKey("image", content, nil)
	var cached visionpb.AnnotateImageResponse
	if c.load(key, &cached) {
		return &cached, nil
	}
	resp, err := c.next.AnnotateImage(ctx, content)
	if err != nil {
		return nil, err
	}
	if resp.GetError() == nil {
		c.store(key, resp)
	}
	return resp, nil
}

func (c *cachedAnnotator) AnnotateFile(ctx context.Context, content []byte, mimeType string, pages []int32) ([]*visionpb.AnnotateImageResponse, error) {
	key := cacheKey(mimeType, content, pages)
	var cached visionpb.AnnotateFileResponse
	if c.load(key, &cached) {
		return cached.GetResponses(), nil
	}
	resps, err := c.next.AnnotateFile(ctx, content, mimeType, pages)
	if err != nil {
		return nil, err
	}
	for _, r := range resps {
		if r.GetError() != nil {
			return resps, nil
		}
	}
	c.store(key, &visionpb.AnnotateFileResponse{Responses: resps})
	return resps, nil
}

func (c *cachedAnnotator) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *cachedAnnotator) load(key string, m proto.Message) bool {
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("vision cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := protojson.Unmarshal(raw, m); err != nil {
		c.logger.Warn("vision cache entry unreadable", "key", key, "error", err)
		return false
	}
	c.logger.Debug("vision cache hit", "key", key)
	return true
}

// store is best effort; a failed write only costs a repeated API call.
func (c *cachedAnnotator) store(key string, m proto.Message) {
	raw, err := protojson.Marshal(m)
	if err != nil {
		c.logger.Warn("vision cache encode failed", "key", key, "error", err)
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn("vision cache dir not created", "dir", c.dir, "error", err)
		return
	}
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		c.logger.Warn("vision cache write failed", "key", key, "error", err)
		return
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		c.logger.Warn("vision cache write failed", "key", key, "error", errors.Join(werr, cerr))
		return
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		c.logger.Warn("vision cache write failed", "key", key, "error", err)
	}
}

func cacheKey(kind string, content []byte, pages []int32) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(content)
	for _, p := range pages {
		_ = binary.Write(h, binary.BigEndian, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
