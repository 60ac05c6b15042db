package pagestore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/klauspost/compress/flate"
)

// Transform is a pair of byte-array conversions applied around a
// backend: Forward on the way to storage, Reverse on the way back
// (spec.md §4.4). Overhead reports how many bytes Forward adds at
// most, so callers can size maxPageSize down.
type Transform interface {
	Forward(data []byte) ([]byte, error)
	Reverse(data []byte) ([]byte, error)
	Overhead() uint32
}

// DataTransformingBackend wraps a PageStoreBackend with a pair of
// transforms applied uniformly to page data and index page data
// (spec.md §4.4). An uninitialized index page (transaction id 0,
// zero-length data) passes through unchanged in both directions,
// since there is nothing yet to compress or encrypt.
type DataTransformingBackend struct {
	backend   PageStoreBackend
	transform Transform
}

// NewDataTransformingBackend wraps backend with transform.
func NewDataTransformingBackend(backend PageStoreBackend, transform Transform) *DataTransformingBackend {
	return &DataTransformingBackend{backend: backend, transform: transform}
}

func (b *DataTransformingBackend) MaxPageSize() uint32 {
	overhead := b.transform.Overhead()
	max := b.backend.MaxPageSize()
	if overhead >= max {
		return 0
	}
	return max - overhead
}

func isUninitializedIndexPage(p BackendIndexPage) bool {
	return p.TransactionId == 0 && len(p.Data) == 0
}

func (b *DataTransformingBackend) ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageIdentifier) (ReadPagesResult, error) {
	result, err := b.backend.ReadPages(ctx, includeIndex, ids)
	if err != nil {
		return ReadPagesResult{}, err
	}

	if result.IndexPage != nil && !isUninitializedIndexPage(*result.IndexPage) {
		data, err := b.transform.Reverse(result.IndexPage.Data)
		if err != nil {
			return ReadPagesResult{}, err
		}
		result.IndexPage = &BackendIndexPage{TransactionId: result.IndexPage.TransactionId, Data: data}
	}

	pages := make([]BackendPage, len(result.Pages))
	for i, p := range result.Pages {
		data, err := b.transform.Reverse(p.Data)
		if err != nil {
			return ReadPagesResult{}, err
		}
		pages[i] = BackendPage{Id: p.Id, Data: data}
	}
	result.Pages = pages
	return result, nil
}

func (b *DataTransformingBackend) WritePages(ctx context.Context, indexPage BackendIndexPage, previousTransactionId uint64, pages []BackendPage) (bool, error) {
	transformedIndex := indexPage
	if !isUninitializedIndexPage(indexPage) {
		data, err := b.transform.Forward(indexPage.Data)
		if err != nil {
			return false, err
		}
		transformedIndex = BackendIndexPage{TransactionId: indexPage.TransactionId, Data: data}
	}

	transformedPages := make([]BackendPage, len(pages))
	for i, p := range pages {
		data, err := b.transform.Forward(p.Data)
		if err != nil {
			return false, err
		}
		transformedPages[i] = BackendPage{Id: p.Id, Data: data}
	}

	return b.backend.WritePages(ctx, transformedIndex, previousTransactionId, transformedPages)
}

// Compression markers, stored as a trailing byte after the (possibly
// compressed) payload.
const (
	compressionMarkerNone       byte = 0
	compressionMarkerGzip       byte = 1 // reserved, read-only compatibility
	compressionMarkerDeflateRaw byte = 2
)

// CompressingTransform wraps page data with raw DEFLATE, falling back
// to storing the bytes verbatim whenever compression does not shrink
// them (spec.md §4.4).
type CompressingTransform struct{}

func (CompressingTransform) Overhead() uint32 { return 1 }

func (CompressingTransform) Forward(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, wrapError(BackendError, "creating deflate writer", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, wrapError(BackendError, "compressing page data", err)
	}
	if err := w.Close(); err != nil {
		return nil, wrapError(BackendError, "flushing deflate writer", err)
	}

	if buf.Len() >= len(data) {
		out := make([]byte, len(data)+1)
		copy(out, data)
		out[len(data)] = compressionMarkerNone
		return out, nil
	}

	out := make([]byte, buf.Len()+1)
	copy(out, buf.Bytes())
	out[buf.Len()] = compressionMarkerDeflateRaw
	return out, nil
}

func (CompressingTransform) Reverse(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, wrapError(InvalidEncoding, "compressed page data missing marker byte", nil)
	}
	marker := data[len(data)-1]
	payload := data[:len(data)-1]

	switch marker {
	case compressionMarkerNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case compressionMarkerDeflateRaw:
		r := flate.NewReader(bytes.NewReader(payload))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, wrapError(InvalidEncoding, "inflating page data", err)
		}
		return out, nil
	case compressionMarkerGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, wrapError(InvalidEncoding, "opening gzip page data", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, wrapError(InvalidEncoding, "gunzipping page data", err)
		}
		return out, nil
	default:
		return nil, newError(InvalidEncoding, "unknown compression marker byte")
	}
}

const (
	aesGCMNonceSize = 12
	aesGCMTagSize   = 16
	// aesGCMOverhead is the fixed cost of the prepended nonce plus the
	// authentication tag GCM appends to the ciphertext.
	aesGCMOverhead = aesGCMNonceSize + aesGCMTagSize
)

// EncryptingTransform wraps page data with AES-GCM authenticated
// encryption, prepending a random 12-byte IV (spec.md §4.4).
type EncryptingTransform struct {
	gcm cipher.AEAD
}

// NewEncryptingTransform builds a transform from an AES key (16, 24,
// or 32 bytes). A key of the wrong length or kind fails with InvalidKey.
func NewEncryptingTransform(key []byte) (*EncryptingTransform, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapError(InvalidKey, "invalid AES-GCM key", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, aesGCMNonceSize)
	if err != nil {
		return nil, wrapError(InvalidKey, "constructing AES-GCM", err)
	}
	return &EncryptingTransform{gcm: gcm}, nil
}

func (t *EncryptingTransform) Overhead() uint32 { return aesGCMOverhead }

func (t *EncryptingTransform) Forward(data []byte) ([]byte, error) {
	nonce := make([]byte, aesGCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, wrapError(BackendError, "generating nonce", err)
	}
	out := make([]byte, 0, len(nonce)+len(data)+aesGCMTagSize)
	out = append(out, nonce...)
	out = t.gcm.Seal(out, nonce, data, nil)
	return out, nil
}

func (t *EncryptingTransform) Reverse(data []byte) ([]byte, error) {
	if len(data) < aesGCMNonceSize {
		return nil, newError(DecryptionFailed, "ciphertext shorter than the nonce")
	}
	nonce, ciphertext := data[:aesGCMNonceSize], data[aesGCMNonceSize:]
	plain, err := t.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, wrapError(DecryptionFailed, "AES-GCM authentication failed", err)
	}
	return plain, nil
}

// ChainTransform composes two transforms so that Forward applies
// first, then second; Reverse undoes them in the opposite order. Used
// to layer compression under encryption.
type ChainTransform struct {
	first, second Transform
}

func NewChainTransform(first, second Transform) ChainTransform {
	return ChainTransform{first: first, second: second}
}

func (c ChainTransform) Overhead() uint32 { return c.first.Overhead() + c.second.Overhead() }

func (c ChainTransform) Forward(data []byte) ([]byte, error) {
	intermediate, err := c.first.Forward(data)
	if err != nil {
		return nil, err
	}
	return c.second.Forward(intermediate)
}

func (c ChainTransform) Reverse(data []byte) ([]byte, error) {
	intermediate, err := c.second.Reverse(data)
	if err != nil {
		return nil, err
	}
	return c.first.Reverse(intermediate)
}
