package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-backend/internal/models"
	"certgen-backend/internal/services"
)

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu sync.Mutex

	version    *models.TemplateVersion
	sourceFile *models.Artifact
	fields     []models.Field
	versionErr error

	jobs       map[uuid.UUID]*models.GenerationJob
	artifacts  map[uuid.UUID]*models.Artifact
	recipients []*models.RecipientRecord
	certs      map[uuid.UUID]*models.IssuedCertificate
	counter    int

	// failCertAtRow makes CreateCertificate fail for the recipient at
	// this row index. -1 disables the injection.
	failCertAtRow int

	// winnerArtifactID, when set, makes SetVersionPreview lose the race
	// to this artifact.
	winnerArtifactID uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:          make(map[uuid.UUID]*models.GenerationJob),
		artifacts:     make(map[uuid.UUID]*models.Artifact),
		certs:         make(map[uuid.UUID]*models.IssuedCertificate),
		failCertAtRow: -1,
	}
}

func (f *fakeStore) GetLatestVersion(templateID, orgID uuid.UUID) (*models.TemplateVersion, *models.Artifact, []models.Field, error) {
	if f.versionErr != nil {
		return nil, nil, nil, f.versionErr
	}
	return f.version, f.sourceFile, f.fields, nil
}

func (f *fakeStore) GetVersion(versionID uuid.UUID) (*models.TemplateVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, nil
}

func (f *fakeStore) GetArtifact(artifactID uuid.UUID) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[artifactID]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", artifactID)
	}
	return a, nil
}

func (f *fakeStore) CreateArtifact(artifact *models.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[artifact.ID] = artifact
	return nil
}

func (f *fakeStore) DeleteArtifact(artifactID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.artifacts, artifactID)
	return nil
}

func (f *fakeStore) CreateJob(job *models.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	copied.CreatedAt = time.Now()
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeStore) FinishJob(jobID uuid.UUID, status string, itemErrors []models.ItemError, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Status = status
	if len(itemErrors) > 0 {
		job.Errors, _ = json.Marshal(itemErrors)
	}
	if errMsg != "" {
		job.ErrorMessage.String = errMsg
		job.ErrorMessage.Valid = true
	}
	job.CompletedAt.Time = time.Now()
	job.CompletedAt.Valid = true
	return nil
}

func (f *fakeStore) CreateRecipient(rec *models.RecipientRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipients = append(f.recipients, rec)
	return nil
}

func (f *fakeStore) NextCertificateNumber(orgID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("CERT-%06d", f.counter), nil
}

func (f *fakeStore) CreateCertificate(cert *models.IssuedCertificate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCertAtRow >= 0 {
		for _, rec := range f.recipients {
			if rec.ID == cert.RecipientID && rec.RowIndex == f.failCertAtRow {
				return fmt.Errorf("injected certificate insert failure")
			}
		}
	}
	f.certs[cert.ID] = cert
	return nil
}

func (f *fakeStore) DeleteCertificate(certID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.certs, certID)
	return nil
}

func (f *fakeStore) SetCertificatePreview(certID, artifactID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cert, ok := f.certs[certID]; ok {
		cert.PreviewArtifactID = uuid.NullUUID{UUID: artifactID, Valid: true}
	}
	return nil
}

func (f *fakeStore) SetVersionPreview(versionID, artifactID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.winnerArtifactID != uuid.Nil {
		f.version.PreviewArtifactID = uuid.NullUUID{UUID: f.winnerArtifactID, Valid: true}
		return false, nil
	}
	if f.version.PreviewArtifactID.Valid {
		return false, nil
	}
	f.version.PreviewArtifactID = uuid.NullUUID{UUID: artifactID, Valid: true}
	return true, nil
}

// fakeBlobStore keeps blobs in memory and refuses to overwrite.
type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Download(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", path)
	}
	return data, nil
}

func (f *fakeBlobStore) Upload(path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.blobs[path]; exists {
		return fmt.Errorf("blob %s already exists", path)
	}
	f.blobs[path] = data
	return nil
}

func (f *fakeBlobStore) SignedURL(path string, ttlSeconds int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[path]; !ok {
		return "", fmt.Errorf("blob %s not found", path)
	}
	return "https://signed.example.com/" + path, nil
}

func (f *fakeBlobStore) Delete(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, path)
	return nil
}

func (f *fakeBlobStore) pathsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.blobs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) PublishJobEvent(jobID uuid.UUID, event string, payload map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakePreviewRenderer struct{}

func (f *fakePreviewRenderer) RenderPreview(ctx context.Context, data []byte, mimeType string) ([]byte, string, string, error) {
	return []byte("preview-bytes"), "image/png", "png", nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testEnv struct {
	store  *fakeStore
	blobs  *fakeBlobStore
	events *fakeEvents
	svc    *services.GenerationService
	orgID  uuid.UUID
	userID uuid.UUID
	tplID  uuid.UUID
}

func newTestEnv(t *testing.T, timeout time.Duration) *testEnv {
	t.Helper()

	store := newFakeStore()
	blobs := newFakeBlobStore()
	events := &fakeEvents{}

	sourcePath := "templates/source.png"
	blobs.blobs[sourcePath] = testPNG(t)

	store.version = &models.TemplateVersion{
		ID:            uuid.New(),
		TemplateID:    uuid.New(),
		VersionNumber: 1,
		PageCount:     1,
	}
	store.sourceFile = &models.Artifact{
		ID:          uuid.New(),
		StoragePath: sourcePath,
		MimeType:    "image/png",
	}
	store.fields = []models.Field{{
		Key:        "recipient_name",
		Type:       models.FieldTypeText,
		PageNumber: 1,
		X:          20, Y: 50, Width: 260, Height: 30,
		Style: json.RawMessage(`{"fontSize":18}`),
	}}

	svc := services.NewGenerationService(store, blobs, events, &fakePreviewRenderer{}, "https://certs.example.com", timeout)

	return &testEnv{
		store:  store,
		blobs:  blobs,
		events: events,
		svc:    svc,
		orgID:  uuid.New(),
		userID: uuid.New(),
		tplID:  store.version.TemplateID,
	}
}

func (e *testEnv) input(recipients []map[string]string, opts models.GenerateOptions) services.GenerateInput {
	return services.GenerateInput{
		OrgID:        e.orgID,
		UserID:       e.userID,
		TemplateID:   e.tplID,
		Recipients:   recipients,
		FieldMapping: map[string]string{"recipient_name": "Name"},
		Options:      opts,
	}
}

func TestGenerate_HappyPath(t *testing.T) {
	env := newTestEnv(t, 0)

	recipients := []map[string]string{
		{"Name": "Ada Lovelace", "Email": "ada@example.com"},
		{"Name": "Grace Hopper"},
		{"Name": "Katherine Johnson"},
	}

	resp, err := env.svc.Generate(context.Background(), env.input(recipients, models.GenerateOptions{}))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, resp.Status)
	assert.Equal(t, 3, resp.TotalCertificates)
	assert.Len(t, resp.Certificates, 3)
	assert.Empty(t, resp.Errors)
	// Small batches get no bundle URL even though the bundle exists.
	assert.Empty(t, resp.ZipDownloadURL)

	assert.Equal(t, "Ada Lovelace", resp.Certificates[0].RecipientName)
	assert.Equal(t, "ada@example.com", resp.Certificates[0].RecipientEmail)
	assert.NotEmpty(t, resp.Certificates[0].DownloadURL)
	assert.NotEmpty(t, resp.Certificates[0].PreviewURL)

	// Certificate numbers are sequential and unique.
	seen := make(map[string]bool)
	for _, cert := range resp.Certificates {
		assert.Regexp(t, `^CERT-\d{6}$`, cert.CertificateNumber)
		assert.False(t, seen[cert.CertificateNumber])
		seen[cert.CertificateNumber] = true
	}

	jobID := uuid.MustParse(resp.JobID)
	job := env.store.jobs[jobID]
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.True(t, job.CompletedAt.Valid)
	assert.Equal(t, 3, job.TotalRows)

	assert.Len(t, env.store.recipients, 3)
	for i, rec := range env.store.recipients {
		assert.Equal(t, i, rec.RowIndex)
	}
	assert.Len(t, env.store.certs, 3)

	// Bundle uploaded under the job prefix.
	bundle := fmt.Sprintf("orgs/%s/jobs/%s/certificates.zip", env.orgID, jobID)
	_, err = env.blobs.Download(bundle)
	assert.NoError(t, err)

	assert.Equal(t, []string{"generation_started", "generation_completed"}, env.events.events)
}

func TestGenerate_ItemFailureIsolated(t *testing.T) {
	env := newTestEnv(t, 0)

	recipients := []map[string]string{
		{"Name": "Ada Lovelace"},
		{"Name": "Bad Actor"},
		{"Name": "Grace Hopper"},
	}
	env.store.failCertAtRow = 1

	resp, err := env.svc.Generate(context.Background(), env.input(recipients, models.GenerateOptions{}))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, resp.Status)
	assert.Equal(t, 2, resp.TotalCertificates)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)

	// The failed item's artifact row and blob were rolled back.
	assert.Len(t, env.store.certs, 2)
	certArtifacts := 0
	for _, a := range env.store.artifacts {
		if strings.Contains(a.StoragePath, "/jobs/") && !strings.Contains(a.StoragePath, "/previews/") {
			certArtifacts++
		}
	}
	assert.Equal(t, 2, certArtifacts)

	job := env.store.jobs[uuid.MustParse(resp.JobID)]
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotEmpty(t, job.Errors)
}

func TestGenerate_OversizedBatchQueued(t *testing.T) {
	env := newTestEnv(t, 0)

	recipients := make([]map[string]string, services.SyncBatchCap+1)
	for i := range recipients {
		recipients[i] = map[string]string{"Name": fmt.Sprintf("Recipient %d", i)}
	}

	resp, err := env.svc.Generate(context.Background(), env.input(recipients, models.GenerateOptions{}))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusQueued, resp.Status)
	assert.Zero(t, resp.TotalCertificates)
	assert.Empty(t, resp.Certificates)

	job := env.store.jobs[uuid.MustParse(resp.JobID)]
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, services.SyncBatchCap+1, job.TotalRows)

	// Nothing rendered, nothing stored.
	assert.Empty(t, env.store.certs)
	assert.Empty(t, env.blobs.pathsWithPrefix(fmt.Sprintf("orgs/%s", env.orgID)))
	assert.Equal(t, []string{"generation_queued"}, env.events.events)
}

func TestGenerate_BundleURLOverThreshold(t *testing.T) {
	env := newTestEnv(t, 0)

	recipients := make([]map[string]string, 12)
	for i := range recipients {
		recipients[i] = map[string]string{"Name": fmt.Sprintf("Recipient %d", i)}
	}

	resp, err := env.svc.Generate(context.Background(), env.input(recipients, models.GenerateOptions{}))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, resp.Status)
	assert.Equal(t, 12, resp.TotalCertificates)
	assert.NotEmpty(t, resp.ZipDownloadURL)
}

func TestGenerate_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, 0)

	_, err := env.svc.Generate(context.Background(), env.input(nil, models.GenerateOptions{}))
	assert.True(t, services.IsValidation(err))

	one := []map[string]string{{"Name": "Ada"}}

	_, err = env.svc.Generate(context.Background(), env.input(one, models.GenerateOptions{
		ExpiryType: "custom",
	}))
	assert.True(t, services.IsValidation(err), "custom expiry without date")

	_, err = env.svc.Generate(context.Background(), env.input(one, models.GenerateOptions{
		ExpiryType:       "custom",
		CustomExpiryDate: "not a date",
	}))
	assert.True(t, services.IsValidation(err), "unparseable custom date")

	_, err = env.svc.Generate(context.Background(), env.input(one, models.GenerateOptions{
		IssueDate: "never",
	}))
	assert.True(t, services.IsValidation(err), "unparseable issue date")

	env.store.fields[0].PageNumber = 5
	_, err = env.svc.Generate(context.Background(), env.input(one, models.GenerateOptions{}))
	assert.True(t, services.IsValidation(err), "field page out of range")
	env.store.fields[0].PageNumber = 1

	// No job row was ever created for rejected requests.
	assert.Empty(t, env.store.jobs)
}

func TestGenerate_TemplateNotFound(t *testing.T) {
	env := newTestEnv(t, 0)
	env.store.versionErr = fmt.Errorf("no rows")

	_, err := env.svc.Generate(context.Background(), env.input([]map[string]string{{"Name": "Ada"}}, models.GenerateOptions{}))
	assert.True(t, services.IsNotFound(err))
	assert.Empty(t, env.store.jobs)
}

func TestGenerate_ExpiryOptions(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := env.svc.Generate(context.Background(), env.input(
		[]map[string]string{{"Name": "Ada"}},
		models.GenerateOptions{
			IssueDate:  "2025-01-15",
			ExpiryType: "year",
		},
	))
	require.NoError(t, err)
	require.Len(t, resp.Certificates, 1)

	cert := resp.Certificates[0]
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), cert.IssuedAt)
	require.NotNil(t, cert.ExpiresAt)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), *cert.ExpiresAt)

	resp, err = env.svc.Generate(context.Background(), env.input(
		[]map[string]string{{"Name": "Grace"}},
		models.GenerateOptions{ExpiryType: "never"},
	))
	require.NoError(t, err)
	require.Len(t, resp.Certificates, 1)
	assert.Nil(t, resp.Certificates[0].ExpiresAt)
}

func TestGenerate_DeadlineFailsJobKeepsPartialResults(t *testing.T) {
	env := newTestEnv(t, time.Nanosecond)

	resp, err := env.svc.Generate(context.Background(), env.input(
		[]map[string]string{{"Name": "Ada"}, {"Name": "Grace"}},
		models.GenerateOptions{},
	))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, resp.Status)

	job := env.store.jobs[uuid.MustParse(resp.JobID)]
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.True(t, job.ErrorMessage.Valid)
	assert.Contains(t, job.ErrorMessage.String, "deadline")
}

func TestGenerate_ConcurrentBatchesUniqueNumbers(t *testing.T) {
	env := newTestEnv(t, 0)

	const batches = 3
	const perBatch = 4

	var wg sync.WaitGroup
	responses := make([]*models.GenerationResponse, batches)
	for b := 0; b < batches; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			recipients := make([]map[string]string, perBatch)
			for i := range recipients {
				recipients[i] = map[string]string{"Name": fmt.Sprintf("Batch %d Recipient %d", b, i)}
			}
			resp, err := env.svc.Generate(context.Background(), env.input(recipients, models.GenerateOptions{}))
			assert.NoError(t, err)
			responses[b] = resp
		}(b)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, resp := range responses {
		require.NotNil(t, resp)
		require.Equal(t, models.JobStatusCompleted, resp.Status)
		for _, cert := range resp.Certificates {
			assert.False(t, seen[cert.CertificateNumber], "duplicate %s", cert.CertificateNumber)
			seen[cert.CertificateNumber] = true
		}
	}
	assert.Len(t, seen, batches*perBatch)
}
