package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	gos3 "pairsync/pkg/s3"
	"pairsync/pkg/session"
)

const presignTTL = 15 * time.Minute

// S3Archiver writes the final document of each ended session to object
// storage so couples can revisit finished games after the live row is gone.
type S3Archiver struct {
	client *gos3.Client
	bucket string
}

func NewS3(client *gos3.Client, bucket string) (*S3Archiver, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &S3Archiver{client: client, bucket: bucket}, nil
}

// Key returns the object key a session document is archived under.
func Key(pairingID uuid.UUID, kind string, sessionID uuid.UUID) string {
	return fmt.Sprintf("sessions/%s/%s/%s.json", pairingID, kind, sessionID)
}

func (a *S3Archiver) Archive(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	return a.client.PutBytes(ctx, a.bucket, Key(s.PairingID, s.Kind, s.ID), "application/json", data)
}

// HistoryURL hands out a short-lived link to one archived session document.
func (a *S3Archiver) HistoryURL(ctx context.Context, pairingID uuid.UUID, kind string, sessionID uuid.UUID) (string, error) {
	return a.client.PresignGet(ctx, a.bucket, Key(pairingID, kind, sessionID), presignTTL)
}
