// Package imaging fetches scan images and derives the canonical encoded form
// and content fingerprint used as the cache key.
package imaging

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

// SampleSize is the length, in encoded characters, of each fingerprint window.
const SampleSize = 500

// DefaultMaxBytes bounds the size of a fetched image.
const DefaultMaxBytes = 10 << 20

// Normalizer fetches an image reference and produces a NormalizedImage.
type Normalizer struct {
	client   *http.Client
	maxBytes int64
	log      *zap.Logger
}

// NewNormalizer creates a normalizer. A nil client uses http.DefaultClient;
// no client timeout is set so the platform deadline governs stalled fetches.
func NewNormalizer(client *http.Client, maxBytes int64, log *zap.Logger) *Normalizer {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Normalizer{client: client, maxBytes: maxBytes, log: log.Named("imaging")}
}

// Normalize fetches imageRef and encodes it. Every fetch problem is reported
// as models.ErrUpstreamFetch; there is no synthetic fallback.
func (n *Normalizer) Normalize(ctx context.Context, imageRef string) (models.NormalizedImage, error) {
	data, err := n.fetch(ctx, imageRef)
	if err != nil {
		return models.NormalizedImage{}, err
	}
	img := Encode(data)
	n.log.Debug("image normalized",
		zap.Int("bytes", len(data)),
		zap.Int("encoded_len", len(img.Encoded)),
		zap.String("mime", img.MIMEType),
		zap.String("fingerprint", shortFingerprint(img.Fingerprint)))
	return img, nil
}

func (n *Normalizer) fetch(ctx context.Context, imageRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image reference: %v", models.ErrUpstreamFetch, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: image host returned %d", models.ErrUpstreamFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", models.ErrUpstreamFetch, err)
	}
	if int64(len(data)) > n.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", models.ErrUpstreamFetch, n.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrUpstreamFetch)
	}
	return data, nil
}

// Encode builds the canonical form of raw image bytes. It is pure.
func Encode(data []byte) models.NormalizedImage {
	encoded := base64.StdEncoding.EncodeToString(data)
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		// Phone cameras overwhelmingly produce JPEG.
		mime = "image/jpeg"
	}
	return models.NormalizedImage{
		Data:        data,
		MIMEType:    mime,
		Encoded:     encoded,
		Fingerprint: Fingerprint(encoded),
	}
}

// Fingerprint hashes the length of encoded plus five SampleSize windows taken
// at the start, 25%, 50%, 75% and end. Two inputs of equal length that differ
// only outside every window collide.
func Fingerprint(encoded string) string {
	n := len(encoded)
	starts := []int{0, n / 4, n / 2, n * 3 / 4, max(0, n-SampleSize)}

	h := sha256.New()
	h.Write([]byte(strconv.Itoa(n)))
	h.Write([]byte{':'})
	for i, s := range starts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(encoded[s:min(n, s+SampleSize)]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
