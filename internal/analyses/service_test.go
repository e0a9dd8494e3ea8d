package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/duvallglobal/listapp-sub000/internal/credits"
	"github.com/duvallglobal/listapp-sub000/internal/inference"
	"github.com/duvallglobal/listapp-sub000/internal/marketplace"
	"github.com/duvallglobal/listapp-sub000/internal/shared/storage/object/local"
	"github.com/duvallglobal/listapp-sub000/internal/tiers"
)

const validResultJSON = `{
  "productName": "Nike Air Max 90",
  "brand": "Nike",
  "category": "Shoes",
  "estimatedValue": {"low": 40, "median": 60, "high": 85},
  "marketplaceRecommendations": [
    {"platform": "ebay", "suitability": 0.9, "reasoning": "strong sneaker demand"},
    {"platform": "poshmark", "suitability": 0.7, "reasoning": "fashion resale audience"}
  ],
  "confidenceScore": 0.82,
  "generatedTitle": "Nike Air Max 90 Sneakers",
  "description": "Classic Air Max 90 colorway with light wear.",
  "tags": ["nike", "air max", "sneakers", "retro", "running"]
}`

type staticInference struct {
	resp string
}

func (s staticInference) AnalyzeItem(ctx context.Context, req inference.Request) (json.RawMessage, error) {
	_ = ctx
	_ = req
	return json.RawMessage(s.resp), nil
}

type failingInference struct {
	err error
}

func (f failingInference) AnalyzeItem(ctx context.Context, req inference.Request) (json.RawMessage, error) {
	_ = ctx
	_ = req
	return nil, f.err
}

type captureInference struct {
	resp string
	last inference.Request
}

func (c *captureInference) AnalyzeItem(ctx context.Context, req inference.Request) (json.RawMessage, error) {
	_ = ctx
	c.last = req
	return json.RawMessage(c.resp), nil
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, userID string, fileName string, r io.Reader) (string, int64, string, error) {
	_ = ctx
	_ = userID
	_ = fileName
	_ = r
	return "", 0, "", errors.New("bucket offline")
}

func (failingStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	_ = ctx
	_ = storageKey
	return nil, errors.New("bucket offline")
}

// jpegBytes returns a payload content sniffing reports as image/jpeg.
func jpegBytes() []byte {
	return append([]byte{0xff, 0xd8, 0xff, 0xdb}, bytes.Repeat([]byte{0x10}, 64)...)
}

func setupService(t *testing.T, client inference.Client) (*Service, *MemoryRepo, *credits.Service, *stubQueue) {
	t.Helper()
	repo := NewMemoryRepo()
	store := local.New(t.TempDir())
	catalog := tiers.Default()
	creditsSvc := credits.NewService(catalog)
	creditsSvc.SetJobCounter(repo)
	queueStub := &stubQueue{}
	svc := &Service{
		Repo:      repo,
		Credits:   creditsSvc,
		Store:     store,
		Inference: client,
		JobQueue:  queueStub,
		Fees:      marketplace.DefaultFeeSchedule(),
		Provider:  "openai",
		Model:     "gpt-4o-mini",
	}
	return svc, repo, creditsSvc, queueStub
}

func submitJob(t *testing.T, svc *Service, ownerID string) Job {
	t.Helper()
	job, err := svc.Submit(context.Background(), ownerID, SubmitRequest{
		FileName:  "photo.jpg",
		Image:     bytes.NewReader(jpegBytes()),
		Condition: "good",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

func TestSubmitCreatesPendingJobAndEnqueues(t *testing.T) {
	svc, repo, creditsSvc, queueStub := setupService(t, staticInference{resp: validResultJSON})

	job := submitJob(t, svc, "user-1")

	if job.Status != StatusPending {
		t.Fatalf("expected status pending, got %s", job.Status)
	}
	if job.Condition != ConditionGood {
		t.Fatalf("expected condition good, got %q", job.Condition)
	}
	if job.ArtifactMime != "image/jpeg" {
		t.Fatalf("expected sniffed mime image/jpeg, got %q", job.ArtifactMime)
	}
	if len(queueStub.messages) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(queueStub.messages))
	}
	if queueStub.messages[0].JobID != job.ID {
		t.Fatalf("queued message job id %q does not match %q", queueStub.messages[0].JobID, job.ID)
	}

	stored, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	body, err := svc.Store.Open(context.Background(), stored.ArtifactKey)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	body.Close()

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Reserved != 1 {
		t.Fatalf("expected 1 reserved credit, got %d", account.Reserved)
	}
}

func TestSubmitNormalizesCondition(t *testing.T) {
	svc, _, _, _ := setupService(t, staticInference{resp: validResultJSON})

	job, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:  "photo.jpg",
		Image:     bytes.NewReader(jpegBytes()),
		Condition: "Like New",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Condition != ConditionLikeNew {
		t.Fatalf("expected condition like_new, got %q", job.Condition)
	}
}

func TestSubmitRejectsUnknownCondition(t *testing.T) {
	svc, repo, creditsSvc, _ := setupService(t, staticInference{resp: validResultJSON})

	_, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:  "photo.jpg",
		Image:     bytes.NewReader(jpegBytes()),
		Condition: "meh",
	})
	var ve errValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}

	jobs, err := repo.ListByOwner(context.Background(), "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs after rejected submit, got %d", len(jobs))
	}
	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Reserved != 0 {
		t.Fatalf("expected no reservation, got %d", account.Reserved)
	}
}

func TestSubmitRejectsOversizeImage(t *testing.T) {
	svc, _, creditsSvc, _ := setupService(t, staticInference{resp: validResultJSON})
	svc.MaxArtifactBytes = 16

	_, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:  "photo.jpg",
		Image:     bytes.NewReader(jpegBytes()),
		Condition: "good",
	})
	var ve errValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected size limit message, got %q", err.Error())
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Reserved != 0 {
		t.Fatalf("expected no reservation, got %d", account.Reserved)
	}
}

func TestSubmitRejectsNonImage(t *testing.T) {
	svc, _, _, _ := setupService(t, staticInference{resp: validResultJSON})

	_, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:  "notes.txt",
		Image:     strings.NewReader("this is not an image"),
		Condition: "good",
	})
	var ve errValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported image type") {
		t.Fatalf("expected unsupported type message, got %q", err.Error())
	}
}

func TestSubmitNegativeEstimatedCostRejected(t *testing.T) {
	svc, _, _, _ := setupService(t, staticInference{resp: validResultJSON})

	cost := -5.0
	_, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:      "photo.jpg",
		Image:         bytes.NewReader(jpegBytes()),
		Condition:     "good",
		EstimatedCost: &cost,
	})
	var ve errValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitQuotaExceededAfterTrialCredits(t *testing.T) {
	svc, repo, _, _ := setupService(t, staticInference{resp: validResultJSON})

	submitJob(t, svc, "user-1")
	submitJob(t, svc, "user-1")

	_, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:  "photo.jpg",
		Image:     bytes.NewReader(jpegBytes()),
		Condition: "good",
	})
	if !errors.Is(err, credits.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	jobs, err := repo.ListByOwner(context.Background(), "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
}

func TestSubmitReleasesReservationWhenUploadFails(t *testing.T) {
	svc, repo, creditsSvc, _ := setupService(t, staticInference{resp: validResultJSON})
	svc.Store = failingStore{}

	_, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:  "photo.jpg",
		Image:     bytes.NewReader(jpegBytes()),
		Condition: "good",
	})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Reserved != 0 {
		t.Fatalf("expected reservation released, got %d", account.Reserved)
	}
	jobs, err := repo.ListByOwner(context.Background(), "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no job rows, got %d", len(jobs))
	}
}

func TestProcessCompletesJobAndDebitsCredit(t *testing.T) {
	svc, repo, creditsSvc, _ := setupService(t, staticInference{resp: validResultJSON})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected started and completed timestamps, got %v / %v", got.StartedAt, got.CompletedAt)
	}
	if len(got.RawResponse) == 0 {
		t.Fatalf("expected raw response to be recorded")
	}
	if got.Result == nil {
		t.Fatalf("expected parsed result")
	}
	if got.Result.ProductName != "Nike Air Max 90" {
		t.Fatalf("unexpected product name %q", got.Result.ProductName)
	}
	ebay := got.Result.Recommendations[0]
	if ebay.Platform != "ebay" {
		t.Fatalf("expected ebay first, got %q", ebay.Platform)
	}
	if ebay.Fees != 7.95 {
		t.Fatalf("expected fees 7.95 from the schedule, got %v", ebay.Fees)
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance != 1 {
		t.Fatalf("expected balance 1 after debit, got %d", account.Balance)
	}
	if account.Reserved != 0 {
		t.Fatalf("expected reservation consumed, got %d", account.Reserved)
	}

	used, err := creditsSvc.Stats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if used.PeriodUsage != 1 {
		t.Fatalf("expected period usage 1, got %d", used.PeriodUsage)
	}
	if used.Jobs.Completed != 1 {
		t.Fatalf("expected 1 completed job, got %d", used.Jobs.Completed)
	}
}

func TestProcessTwiceDebitsOnce(t *testing.T) {
	svc, _, creditsSvc, _ := setupService(t, staticInference{resp: validResultJSON})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance != 1 {
		t.Fatalf("expected balance 1 after reprocess, got %d", account.Balance)
	}

	entries, err := creditsSvc.Entries(context.Background(), "user-1", 50)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	debits := 0
	for _, e := range entries {
		if e.Reason == credits.ReasonAnalysisDebit {
			debits++
		}
	}
	if debits != 1 {
		t.Fatalf("expected exactly 1 debit entry, got %d", debits)
	}
}

func TestProcessInferenceErrorFailsJobAndReleases(t *testing.T) {
	svc, repo, creditsSvc, _ := setupService(t, failingInference{err: errors.New("service unavailable")})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorCode != ErrorCodeInference {
		t.Fatalf("expected error code %s, got %s", ErrorCodeInference, got.ErrorCode)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "service unavailable" {
		t.Fatalf("expected provider message stored verbatim, got %v", got.ErrorMessage)
	}
	if !got.ErrorRetryable {
		t.Fatalf("expected retryable true for provider error")
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed timestamp on failed job")
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance != 2 || account.Reserved != 0 {
		t.Fatalf("expected full balance back, got balance=%d reserved=%d", account.Balance, account.Reserved)
	}
}

func TestProcessTimeoutCode(t *testing.T) {
	svc, repo, _, _ := setupService(t, failingInference{err: context.DeadlineExceeded})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.ErrorCode != ErrorCodeInferenceTimeout {
		t.Fatalf("expected error code %s, got %s", ErrorCodeInferenceTimeout, got.ErrorCode)
	}
	if !got.ErrorRetryable {
		t.Fatalf("expected retryable true for timeout")
	}
}

func TestProcessSchemaMismatchStoresRaw(t *testing.T) {
	svc, repo, _, _ := setupService(t, staticInference{resp: `{"productName": ""}`})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorCode != ErrorCodeInferenceSchemaMismatch {
		t.Fatalf("expected error code %s, got %s", ErrorCodeInferenceSchemaMismatch, got.ErrorCode)
	}
	if got.ErrorRetryable {
		t.Fatalf("expected retryable false for schema mismatch")
	}
	if len(got.RawResponse) == 0 {
		t.Fatalf("expected raw response stored before parsing")
	}
}

func TestProcessUnknownPlatformsOnlyFailsSchema(t *testing.T) {
	// Well-formed payload whose recommendations all name platforms without a
	// fee entry; the fee normalization drops every one, and a completed job
	// must never carry an empty recommendation list.
	resp := `{
	  "productName": "Oak Dresser",
	  "estimatedValue": {"low": 80, "median": 120, "high": 160},
	  "marketplaceRecommendations": [
	    {"platform": "craigslist", "suitability": 0.8},
	    {"platform": "nextdoor", "suitability": 0.6}
	  ],
	  "confidenceScore": 0.7
	}`
	svc, repo, creditsSvc, _ := setupService(t, staticInference{resp: resp})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorCode != ErrorCodeInferenceSchemaMismatch {
		t.Fatalf("expected error code %s, got %s", ErrorCodeInferenceSchemaMismatch, got.ErrorCode)
	}
	if got.Result != nil {
		t.Fatalf("expected no result on failed job, got %#v", got.Result)
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance != 2 || account.Reserved != 0 {
		t.Fatalf("expected reservation released, got balance=%d reserved=%d", account.Balance, account.Reserved)
	}
}

func TestProcessTerminalCompletedIsStable(t *testing.T) {
	svc, repo, creditsSvc, _ := setupService(t, staticInference{resp: validResultJSON})

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	svc.Inference = failingInference{err: errors.New("should not be called")}
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected job to stay completed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.ProductName != "Nike Air Max 90" {
		t.Fatalf("expected result untouched, got %#v", got.Result)
	}

	account, err := creditsSvc.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance != 1 {
		t.Fatalf("expected balance unchanged at 1, got %d", account.Balance)
	}
}

func TestProcessTerminalTransitionRefreshesCache(t *testing.T) {
	svc, _, _, _ := setupService(t, staticInference{resp: validResultJSON})
	statusCache := newMemStatusCache()
	svc.Cache = statusCache

	job := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The analyzing snapshot is dropped before the completed one is written.
	if len(statusCache.invalidated) != 1 || statusCache.invalidated[0] != job.ID {
		t.Fatalf("expected one invalidation for %q, got %v", job.ID, statusCache.invalidated)
	}
	payload, err := statusCache.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	var doc StatusDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("unmarshal cached doc: %v", err)
	}
	if doc.Status != StatusCompleted {
		t.Fatalf("expected cached terminal status, got %q", doc.Status)
	}

	svc.Inference = failingInference{err: errors.New("service unavailable")}
	failedJob := submitJob(t, svc, "user-1")
	if err := svc.Process(context.Background(), failedJob.ID); err != nil {
		t.Fatalf("process failed job: %v", err)
	}
	if len(statusCache.invalidated) != 2 || statusCache.invalidated[1] != failedJob.ID {
		t.Fatalf("expected invalidation for failed job %q, got %v", failedJob.ID, statusCache.invalidated)
	}
}

func TestProcessMissingArtifactFailsStorage(t *testing.T) {
	svc, repo, _, _ := setupService(t, staticInference{resp: validResultJSON})

	job := submitJob(t, svc, "user-1")
	svc.Store = failingStore{}
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorCode != ErrorCodeStorage {
		t.Fatalf("expected error code %s, got %s", ErrorCodeStorage, got.ErrorCode)
	}
	if !got.ErrorRetryable {
		t.Fatalf("expected retryable true for storage failure")
	}
}

func TestProcessSendsArtifactToProvider(t *testing.T) {
	client := &captureInference{resp: validResultJSON}
	svc, _, _, _ := setupService(t, client)

	cost := 12.5
	job, err := svc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:      "photo.jpg",
		Image:         bytes.NewReader(jpegBytes()),
		Condition:     "good",
		EstimatedCost: &cost,
		Notes:         "bought at estate sale",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if client.last.JobID != job.ID {
		t.Fatalf("expected job id %q, got %q", job.ID, client.last.JobID)
	}
	if !bytes.Equal(client.last.ImageData, jpegBytes()) {
		t.Fatalf("expected original image bytes to reach the provider")
	}
	if client.last.MimeType != "image/jpeg" {
		t.Fatalf("expected mime image/jpeg, got %q", client.last.MimeType)
	}
	if client.last.Condition != ConditionGood {
		t.Fatalf("expected condition good, got %q", client.last.Condition)
	}
	if client.last.EstimatedCost != 12.5 {
		t.Fatalf("expected estimated cost 12.5, got %v", client.last.EstimatedCost)
	}
	if client.last.Notes != "bought at estate sale" {
		t.Fatalf("expected notes to reach the provider, got %q", client.last.Notes)
	}
}
