package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	m.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store_PutGet(t *testing.T) {
	mem := &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
	s := &S3Store{client: mem, bucket: "attachments"}
	ctx := context.Background()

	key := InvoiceKey("INV-2026-00001", "pdf")
	if err := s.Put(ctx, key, "application/pdf", []byte("%PDF-1.3")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "%PDF-1.3" || mem.types[key] != "application/pdf" {
		t.Errorf("unexpected object %q (%s)", got, mem.types[key])
	}

	if _, err := s.Get(ctx, "invoices/missing.pdf"); err == nil || !strings.Contains(err.Error(), "invoices/missing.pdf") {
		t.Errorf("expected wrapped error naming the key, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	a, b := InvoiceKey("INV 2026/01", ".pdf"), InvoiceKey("INV 2026/01", "pdf")
	if a == b {
		t.Errorf("keys must be unique")
	}
	if !strings.HasPrefix(a, "invoices/INV_2026_01/") || !strings.HasSuffix(a, ".pdf") {
		t.Errorf("unexpected key %q", a)
	}
	if k := TransactionKey(42, "jpg"); !strings.HasPrefix(k, "transactions/42/") || !strings.HasSuffix(k, ".jpg") {
		t.Errorf("unexpected key %q", k)
	}
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), Options{Region: "auto"}); err == nil {
		t.Errorf("expected error without bucket")
	}
}
