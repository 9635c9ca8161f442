package store

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// ErrCredentials is returned when the service-account file is missing or
// malformed. The file's contents are never included in the error.
var ErrCredentials = eris.New("firestore: invalid service account credentials")

// serviceAccount holds the fields of a service-account key we check before
// handing the file to the client library.
type serviceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

// LoadCredentials reads and checks a service-account key file. It returns
// the raw JSON and the project id named in it.
func LoadCredentials(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", eris.Wrapf(ErrCredentials, "read %s", path)
	}
	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, "", eris.Wrapf(ErrCredentials, "parse %s", path)
	}
	if sa.Type != "service_account" || sa.PrivateKey == "" || sa.ClientEmail == "" {
		return nil, "", eris.Wrapf(ErrCredentials, "%s is not a service account key", path)
	}
	return data, sa.ProjectID, nil
}

// FirestoreStore implements Store on Cloud Firestore. Price documents live
// in the configured collection and summaries in collection+"_summary".
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore connects with the service account at credentialsFile.
// projectID overrides the project named in the key file when set.
func NewFirestore(ctx context.Context, credentialsFile, projectID, collection string) (*FirestoreStore, error) {
	creds, fileProject, err := LoadCredentials(credentialsFile)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		projectID = fileProject
	}
	if projectID == "" {
		return nil, eris.Wrap(ErrCredentials, "no project id")
	}

	client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, eris.Wrap(err, "firestore: new client")
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

// newFirestoreWithClient wraps an existing client (emulator tests).
func newFirestoreWithClient(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

// Migrate is a no-op; Firestore collections are schemaless.
func (s *FirestoreStore) Migrate(context.Context) error { return nil }

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// documentFields renders a price document as a field map. MergeAll only
// accepts map data.
func documentFields(d model.PriceDocument) map[string]any {
	return map[string]any{
		"jeweller":   d.Jeweller,
		"city":       d.City,
		"carat":      d.Carat,
		"price":      d.Price,
		"date":       d.Date,
		"timestamp":  d.Timestamp,
		"source_url": d.SourceURL,
		"additional_info": map[string]any{
			"extraction_method": d.Provenance.ExtractionMethod,
			"currency":          d.Provenance.Currency,
			"unit":              d.Provenance.Unit,
		},
		"extracted_at": d.ExtractedAt,
	}
}

func (s *FirestoreStore) UpsertPrice(ctx context.Context, rec model.PriceRecord) error {
	doc := rec.Document()
	_, err := s.client.Collection(s.collection).Doc(doc.Key).Set(ctx, documentFields(doc), firestore.MergeAll)
	return eris.Wrapf(err, "firestore: upsert price %s", doc.Key)
}

func (s *FirestoreStore) UpsertPrices(ctx context.Context, recs []model.PriceRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(recs))
	for _, rec := range recs {
		doc := rec.Document()
		job, err := bw.Set(s.client.Collection(s.collection).Doc(doc.Key), documentFields(doc), firestore.MergeAll)
		if err != nil {
			bw.End()
			return 0, eris.Wrapf(err, "firestore: enqueue price %s", doc.Key)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	written := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	return written, eris.Wrap(firstErr, "firestore: upsert prices")
}

func (s *FirestoreStore) GetPrice(ctx context.Context, key string) (*model.PriceRecord, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: get price %s", key)
	}
	return snapshotRecord(snap)
}

func (s *FirestoreStore) ListPrices(ctx context.Context, filter PriceFilter) ([]model.PriceRecord, error) {
	q := s.client.Collection(s.collection).Query
	if filter.Jeweller != "" {
		q = q.Where("jeweller", "==", filter.Jeweller.Slug())
	}
	if filter.Carat != "" {
		q = q.Where("carat", "==", strings.ToUpper(string(filter.Carat)))
	}
	if !filter.From.IsZero() {
		q = q.Where("date", ">=", model.Day(filter.From).Format(model.DateLayout))
	}
	if !filter.To.IsZero() {
		q = q.Where("date", "<=", model.Day(filter.To).Format(model.DateLayout))
	}
	q = q.OrderBy("date", firestore.Desc)
	// City is matched case-insensitively below, so only limit server-side
	// when every condition ran in the query.
	if filter.City == "" {
		q = q.Limit(filter.limit())
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "firestore: list prices")
	}

	var out []model.PriceRecord
	for _, snap := range snaps {
		rec, err := snapshotRecord(snap)
		if err != nil {
			return nil, err
		}
		if !filter.Match(*rec) {
			continue
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *FirestoreStore) summaries() *firestore.CollectionRef {
	return s.client.Collection(s.collection + SummarySuffix)
}

func (s *FirestoreStore) UpsertSummary(ctx context.Context, summary model.RunSummary) error {
	_, err := s.summaries().Doc(summary.ID).Set(ctx, summary)
	return eris.Wrapf(err, "firestore: upsert summary %s", summary.ID)
}

func (s *FirestoreStore) LatestSummary(ctx context.Context) (*model.RunSummary, error) {
	snaps, err := s.summaries().OrderBy(firestore.DocumentID, firestore.Desc).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "firestore: latest summary")
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	var summary model.RunSummary
	if err := snaps[0].DataTo(&summary); err != nil {
		return nil, eris.Wrap(err, "firestore: decode summary")
	}
	summary.ID = snaps[0].Ref.ID
	return &summary, nil
}

func snapshotRecord(snap *firestore.DocumentSnapshot) (*model.PriceRecord, error) {
	var doc model.PriceDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, eris.Wrapf(err, "firestore: decode %s", snap.Ref.ID)
	}
	doc.Key = snap.Ref.ID
	rec, err := doc.Record()
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: decode %s", snap.Ref.ID)
	}
	return &rec, nil
}
