package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/repository"
	"github.com/evalhub/assess-go-api/pkg/sandbox"
)

type fakeSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[uint]models.Submission
	history     []models.GradeHistory
	nextID      uint
	updateErr   error
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{submissions: map[uint]models.Submission{}}
}

func (f *fakeSubmissionRepo) put(submission models.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if submission.Version == 0 {
		submission.Version = 1
	}
	f.submissions[submission.ID] = submission
	if submission.ID > f.nextID {
		f.nextID = submission.ID
	}
}

func (f *fakeSubmissionRepo) get(id uint) models.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[id]
}

func (f *fakeSubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Submission
	for _, submission := range f.submissions {
		if filter.AssessmentID != nil && submission.AssessmentID != *filter.AssessmentID {
			continue
		}
		if filter.StudentID != nil && submission.StudentID != *filter.StudentID {
			continue
		}
		if filter.Status != nil && submission.Status != *filter.Status {
			continue
		}
		out = append(out, submission)
	}
	return out, nil
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	submission, ok := f.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (f *fakeSubmissionRepo) CreateAttempt(_ context.Context, submission *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prior := 0
	for id, existing := range f.submissions {
		if existing.AssessmentID != submission.AssessmentID || existing.StudentID != submission.StudentID {
			continue
		}
		prior++
		if existing.Status == models.SubmissionStatusInProgress {
			existing.Status = models.SubmissionStatusAbandoned
			f.submissions[id] = existing
		}
	}

	f.nextID++
	submission.ID = f.nextID
	submission.AttemptNumber = prior + 1
	submission.Status = models.SubmissionStatusInProgress
	submission.Version = 1
	f.submissions[submission.ID] = *submission
	return nil
}

func (f *fakeSubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return f.updateErr
	}

	current, ok := f.submissions[submission.ID]
	if !ok || current.Version != submission.Version {
		return repository.ErrVersionConflict
	}
	submission.Version++
	f.submissions[submission.ID] = *submission
	return nil
}

func (f *fakeSubmissionRepo) CreateHistory(_ context.Context, history *models.GradeHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	history.ID = uint(len(f.history) + 1)
	f.history = append(f.history, *history)
	return nil
}

func (f *fakeSubmissionRepo) ListCompletedByAssessment(_ context.Context, assessmentID uint) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Submission
	for _, submission := range f.submissions {
		if submission.AssessmentID == assessmentID && submission.IsCompleted() {
			out = append(out, submission)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) ListCompletedByStudentAndCourse(_ context.Context, studentID, _ uint) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Submission
	for _, submission := range f.submissions {
		if submission.StudentID == studentID && submission.IsCompleted() {
			out = append(out, submission)
		}
	}
	return out, nil
}

type fakeAssessmentRepo struct {
	assessments map[uint]models.Assessment
}

func newFakeAssessmentRepo(assessments ...models.Assessment) *fakeAssessmentRepo {
	repo := &fakeAssessmentRepo{assessments: map[uint]models.Assessment{}}
	for _, assessment := range assessments {
		repo.assessments[assessment.ID] = assessment
	}
	return repo
}

func (f *fakeAssessmentRepo) GetByID(_ context.Context, id uint) (models.Assessment, error) {
	assessment, ok := f.assessments[id]
	if !ok {
		return models.Assessment{}, gorm.ErrRecordNotFound
	}
	return assessment, nil
}

func (f *fakeAssessmentRepo) GetWithQuestions(ctx context.Context, id uint) (models.Assessment, error) {
	return f.GetByID(ctx, id)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []GradingEvent
}

func (c *capturePublisher) Publish(_ context.Context, event GradingEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturePublisher) byType(eventType string) []GradingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []GradingEvent
	for _, event := range c.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// noopSandbox echoes the stdin it receives, which never matches any
// expected output used in these tests.
type noopSandbox struct{}

func (noopSandbox) Execute(_ context.Context, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Stdout: req.Stdin}, nil
}

func testValidator() *validator.Validate {
	return validator.New()
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func fixedTime() time.Time {
	return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}
