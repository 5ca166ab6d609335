package s3

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// MockClient is an in-memory API for tests and dry runs.
type MockClient struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PageSize bounds ListObjectsV2 pages; 0 means a single page.
	PageSize int

	PutObjectCalls  int
	ListObjectCalls int
}

var _ API = (*MockClient)(nil)

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{objects: make(map[string][]byte)}
}

// Keys returns the stored keys, sorted.
func (m *MockClient) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// PutObject honours If-None-Match "*".
func (m *MockClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutObjectCalls++
	if aws.ToString(params.IfNoneMatch) == "*" {
		if _, exists := m.objects[key]; exists {
			return nil, &mockAPIError{code: "PreconditionFailed", message: "object already exists"}
		}
	}
	m.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

// GetObject returns a copy of the stored body.
func (m *MockClient) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	data, exists := m.objects[aws.ToString(params.Key)]
	m.mu.RUnlock()
	if !exists {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(bytes.Clone(data)))}, nil
}

// HeadObject reports presence.
func (m *MockClient) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.RLock()
	data, exists := m.objects[aws.ToString(params.Key)]
	m.mu.RUnlock()
	if !exists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

// DeleteObject removes a key; missing keys are ignored.
func (m *MockClient) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.objects, aws.ToString(params.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 pages through matching keys in lexical order. The
// continuation token is the offset of the next page.
func (m *MockClient) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	m.mu.Lock()
	m.ListObjectCalls++
	m.mu.Unlock()

	var keys []string
	for _, k := range m.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	start := 0
	if params.ContinuationToken != nil {
		n, err := strconv.Atoi(*params.ContinuationToken)
		if err != nil {
			return nil, &mockAPIError{code: "InvalidArgument", message: "bad continuation token"}
		}
		start = n
	}
	end := len(keys)
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[min(start, len(keys)):end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// mockAPIError implements smithy.APIError.
type mockAPIError struct {
	code    string
	message string
}

var _ smithy.APIError = (*mockAPIError)(nil)

func (e *mockAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
