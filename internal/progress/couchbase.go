package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/hisextract/internal/metrics"
)

const progressDocType = "extraction_progress"

// progressDoc is the Couchbase document shape: the entry plus a docType
// discriminator so the N1QL load query can find all progress entries.
type progressDoc struct {
	DocType string `json:"docType"`
	Entry
}

// CouchbaseStore keeps one document per folder number. Writes go through a
// synchronous KV upsert, so a completed patient is durable before the worker
// takes the next one.
type CouchbaseStore struct {
	cluster *gocb.Cluster
	bucket  *gocb.Bucket
	name    string
}

// NewCouchbaseStore connects to the cluster and prepares the bucket for KV
// and query operations.
func NewCouchbaseStore(url, username, password, bucketName string) (*CouchbaseStore, error) {
	cluster, err := gocb.Connect(url, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: username,
			Password: password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 60 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
	}

	bucket := cluster.Bucket(bucketName)
	err = bucket.WaitUntilReady(90*time.Second, &gocb.WaitUntilReadyOptions{
		Context:      context.Background(),
		ServiceTypes: []gocb.ServiceType{gocb.ServiceTypeKeyValue, gocb.ServiceTypeQuery},
	})
	if err != nil {
		return nil, fmt.Errorf("couchbase bucket not ready: %w", err)
	}

	// Primary index for the N1QL load query.
	_, err = cluster.Query(fmt.Sprintf("CREATE PRIMARY INDEX IF NOT EXISTS ON `%s`", bucketName), &gocb.QueryOptions{})
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucketName).Msg("Failed to ensure primary index on progress bucket")
	}

	log.Info().
		Str("couchbase_url", url).
		Str("bucket", bucketName).
		Msg("Progress store initialized")

	return &CouchbaseStore{cluster: cluster, bucket: bucket, name: bucketName}, nil
}

func progressKey(folderNumber string) string {
	return "progress::" + folderNumber
}

// Load reads every progress entry in the bucket.
func (s *CouchbaseStore) Load(ctx context.Context) (map[string]*Entry, error) {
	query := fmt.Sprintf(
		"SELECT d.* FROM `%s` AS d WHERE d.`docType` = $type", s.name)
	rows, err := s.cluster.Query(query, &gocb.QueryOptions{
		Context:         ctx,
		NamedParameters: map[string]interface{}{"type": progressDocType},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query progress entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*Entry)
	for rows.Next() {
		var doc progressDoc
		if err := rows.Row(&doc); err != nil {
			log.Warn().Err(err).Msg("Failed to read progress row")
			continue
		}
		e := doc.Entry
		entries[e.FolderNumber] = &e
	}
	return entries, nil
}

// Upsert durably persists one entry.
func (s *CouchbaseStore) Upsert(ctx context.Context, entry *Entry) error {
	doc := progressDoc{DocType: progressDocType, Entry: *entry}

	start := time.Now()
	_, err := s.bucket.DefaultCollection().Upsert(progressKey(entry.FolderNumber), doc, &gocb.UpsertOptions{
		Context: ctx,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.RecordStoreOperation("upsert", "error")
		metrics.RecordStoreOperationDuration("upsert", duration)
		return fmt.Errorf("failed to upsert progress for %s: %w", entry.FolderNumber, err)
	}

	metrics.RecordStoreOperation("upsert", "success")
	metrics.RecordStoreOperationDuration("upsert", duration)
	return nil
}

// Snapshot summarizes the current state of the bucket.
func (s *CouchbaseStore) Snapshot(ctx context.Context) (*RunSummary, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(entries), nil
}

// Close releases the cluster connection.
func (s *CouchbaseStore) Close() error {
	if s.cluster != nil {
		return s.cluster.Close(nil)
	}
	return nil
}
