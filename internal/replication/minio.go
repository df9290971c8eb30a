package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tangramdotdev/tangram/internal/id"
)

// MinIOPeer is the S3-compatible remote transport spec §11's domain stack
// names alongside the native peer-to-peer one: an object store's worth of
// a Tangram remote, for a peer reachable only over an S3 API rather than
// as a Go value or another Tangram server's RPC surface. Objects are keyed
// by their ID string directly (content-addressed, so the key doubles as
// the integrity check on read); process records and logs are stored as
// small JSON/byte blobs under their own prefixes since a pure object store
// has no process table of its own.
//
// Grounded on the MinIO client usage pattern in
// _examples/other_examples (the 24c4e267 unified-rag-service file):
// minio.New with static credentials, PutObject/GetObject/StatObject
// against one bucket, ContentType on write.
type MinIOPeer struct {
	Client *minio.Client
	Bucket string
}

// NewMinIOPeer dials an S3-compatible endpoint and ensures the bucket
// backing this remote exists.
func NewMinIOPeer(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinIOPeer, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("replication: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("replication: minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("replication: minio make bucket: %w", err)
		}
	}
	return &MinIOPeer{Client: client, Bucket: bucket}, nil
}

func objectKey(objID id.ID) string   { return "objects/" + objID.String() }
func processKey(procID id.ID) string { return "processes/" + procID.String() }
func logKey(procID id.ID) string     { return "logs/" + procID.String() }

func (p *MinIOPeer) stat(ctx context.Context, key string) (bool, error) {
	_, err := p.Client.StatObject(ctx, p.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return false, nil
	}
	return false, err
}

func (p *MinIOPeer) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := p.Client.GetObject(ctx, p.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("replication: minio read %s: %w", key, err)
	}
	return data, nil
}

func (p *MinIOPeer) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := p.Client.PutObject(ctx, p.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("replication: minio put %s: %w", key, err)
	}
	return nil
}

func (p *MinIOPeer) HasObjects(ctx context.Context, ids []id.ID) (map[id.ID]bool, error) {
	out := make(map[id.ID]bool, len(ids))
	for _, objID := range ids {
		ok, err := p.stat(ctx, objectKey(objID))
		if err != nil {
			return nil, err
		}
		out[objID] = ok
	}
	return out, nil
}

func (p *MinIOPeer) PutObject(ctx context.Context, objID id.ID, kind id.Kind, data []byte) error {
	return p.put(ctx, objectKey(objID), data, "application/octet-stream")
}

func (p *MinIOPeer) GetObject(ctx context.Context, objID id.ID) ([]byte, error) {
	return p.get(ctx, objectKey(objID))
}

func (p *MinIOPeer) HasProcesses(ctx context.Context, ids []id.ID) (map[id.ID]bool, error) {
	out := make(map[id.ID]bool, len(ids))
	for _, procID := range ids {
		ok, err := p.stat(ctx, processKey(procID))
		if err != nil {
			return nil, err
		}
		out[procID] = ok
	}
	return out, nil
}

// minioProcessRecord is ProcessRecord's JSON wire form; IDs are stored in
// their String form since id.ID has no json tags of its own.
type minioProcessRecord struct {
	ID           string     `json:"id"`
	CommandID    string     `json:"command_id"`
	ParentID     *string    `json:"parent_id,omitempty"`
	Output       *string    `json:"output,omitempty"`
	Error        *string    `json:"error,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func toMinioRecord(rec ProcessRecord) minioProcessRecord {
	strp := func(i *id.ID) *string {
		if i == nil {
			return nil
		}
		s := i.String()
		return &s
	}
	return minioProcessRecord{
		ID: rec.ID.String(), CommandID: rec.CommandID.String(),
		ParentID: strp(rec.ParentID), Output: strp(rec.Output), Error: strp(rec.Error),
		ExitCode: rec.ExitCode, CancelReason: rec.CancelReason,
		CreatedAt: rec.CreatedAt, StartedAt: rec.StartedAt, FinishedAt: rec.FinishedAt,
	}
}

func fromMinioRecord(m minioProcessRecord) (ProcessRecord, error) {
	parseP := func(s *string) (*id.ID, error) {
		if s == nil {
			return nil, nil
		}
		parsed, err := id.Parse(*s)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	}
	procID, err := id.Parse(m.ID)
	if err != nil {
		return ProcessRecord{}, err
	}
	commandID, err := id.Parse(m.CommandID)
	if err != nil {
		return ProcessRecord{}, err
	}
	parentID, err := parseP(m.ParentID)
	if err != nil {
		return ProcessRecord{}, err
	}
	output, err := parseP(m.Output)
	if err != nil {
		return ProcessRecord{}, err
	}
	errID, err := parseP(m.Error)
	if err != nil {
		return ProcessRecord{}, err
	}
	return ProcessRecord{
		ID: procID, CommandID: commandID, ParentID: parentID,
		Output: output, Error: errID, ExitCode: m.ExitCode,
		CancelReason: m.CancelReason, CreatedAt: m.CreatedAt,
		StartedAt: m.StartedAt, FinishedAt: m.FinishedAt,
	}, nil
}

func (p *MinIOPeer) PutProcess(ctx context.Context, rec ProcessRecord) error {
	data, err := json.Marshal(toMinioRecord(rec))
	if err != nil {
		return fmt.Errorf("replication: encode process %s: %w", rec.ID, err)
	}
	return p.put(ctx, processKey(rec.ID), data, "application/json")
}

func (p *MinIOPeer) GetProcess(ctx context.Context, procID id.ID) (ProcessRecord, error) {
	data, err := p.get(ctx, processKey(procID))
	if err != nil {
		return ProcessRecord{}, fmt.Errorf("replication: get process %s: %w", procID, err)
	}
	var m minioProcessRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return ProcessRecord{}, fmt.Errorf("replication: decode process %s: %w", procID, err)
	}
	return fromMinioRecord(m)
}

// AppendLog concatenates onto whatever's already stored under the
// process's log key: S3-family stores have no native append, so a
// read-modify-write is the stand-in (acceptable for this remote's size
// and access pattern — logs are written once per push, not incrementally
// streamed the way internal/process/log.go's live LogStore is).
func (p *MinIOPeer) AppendLog(ctx context.Context, chunk LogChunk) error {
	key := logKey(chunk.ProcessID)
	ok, err := p.stat(ctx, key)
	if err != nil {
		return fmt.Errorf("replication: stat remote log %s: %w", chunk.ProcessID, err)
	}
	var existing []byte
	if ok {
		existing, err = p.get(ctx, key)
		if err != nil {
			return fmt.Errorf("replication: read remote log %s: %w", chunk.ProcessID, err)
		}
	}
	return p.put(ctx, key, append(existing, chunk.Data...), "application/octet-stream")
}
