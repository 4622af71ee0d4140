package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"taxdesk/internal/filing/models"
	"taxdesk/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) newFiling() *models.FilingRecord {
	return &models.FilingRecord{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		AssessmentYear: "2024-25",
		TaxpayerPAN:    "ABCDE1234P",
		FormType:       "ITR-1",
		Payload:        json.RawMessage(`{"personalInfo":{}}`),
		LifecycleState: models.StateDraftInit,
		Progress:       10,
	}
}

func (s *InMemoryStoreSuite) TestCreateAndGet() {
	rec := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, rec))
	s.Equal(int64(1), rec.Version)
	s.Equal(models.LegacyDraft, rec.LegacyStatus)
	s.False(rec.LastUpdated.IsZero())

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)
	s.Equal(rec.TaxpayerPAN, got.TaxpayerPAN)

	got.TaxpayerPAN = "ZZZZZ9999Z"
	again, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal("ABCDE1234P", again.TaxpayerPAN, "callers get clones, not shared state")
}

func (s *InMemoryStoreSuite) TestCreateDuplicateID() {
	rec := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, rec))
	s.ErrorIs(s.store.Create(s.ctx, rec), sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestUpdateBumpsVersionAndDerivesStatus() {
	rec := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, rec))

	rec.LifecycleState = models.StateReadyToFile
	rec.Progress = 25
	s.Require().NoError(s.store.Update(s.ctx, rec, 1))
	s.Equal(int64(2), rec.Version)
	s.Equal(models.LegacyReady, rec.LegacyStatus)
}

func (s *InMemoryStoreSuite) TestUpdateVersionMismatch() {
	rec := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, rec))

	stale := rec.Clone()
	rec.LifecycleState = models.StateReadyToFile
	s.Require().NoError(s.store.Update(s.ctx, rec, 1))

	stale.Progress = 99
	s.ErrorIs(s.store.Update(s.ctx, stale, 1), sentinel.ErrVersionMismatch)

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(models.StateReadyToFile, got.LifecycleState)
	s.NotEqual(99, got.Progress, "stale write is discarded whole")
}

func (s *InMemoryStoreSuite) TestCorrelationIndex() {
	rec := s.newFiling()
	rec.LifecycleState = models.StateERIInProgress
	s.Require().NoError(s.store.Create(s.ctx, rec))

	_, err := s.store.GetByCorrelationID(s.ctx, "ERI-404")
	s.ErrorIs(err, sentinel.ErrNotFound)

	rec.CorrelationID = "ERI-404"
	s.Require().NoError(s.store.Update(s.ctx, rec, rec.Version))

	got, err := s.store.GetByCorrelationID(s.ctx, "ERI-404")
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)
}

func (s *InMemoryStoreSuite) TestListByState() {
	for i := 0; i < 3; i++ {
		rec := s.newFiling()
		rec.LifecycleState = models.StateERIInProgress
		s.Require().NoError(s.store.Create(s.ctx, rec))
	}
	other := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, other))

	inProgress, err := s.store.ListByState(s.ctx, models.StateERIInProgress)
	s.Require().NoError(err)
	s.Len(inProgress, 3)

	drafts, err := s.store.ListByState(s.ctx, models.StateDraftInit)
	s.Require().NoError(err)
	s.Len(drafts, 1)
}

func (s *InMemoryStoreSuite) TestConcurrentUpdatesOneWinner() {
	rec := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, rec))

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := rec.Clone()
			cp.Progress = 20 + i
			errs[i] = s.store.Update(s.ctx, cp, 1)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			s.ErrorIs(err, sentinel.ErrVersionMismatch)
		}
	}
	s.Equal(1, winners)

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
}

func (s *InMemoryStoreSuite) TestRunInTxSerializesSameFiling() {
	rec := s.newFiling()
	s.Require().NoError(s.store.Create(s.ctx, rec))

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.RunInTx(s.ctx, rec.ID, func(ctx context.Context) error {
				current, err := s.store.Get(ctx, rec.ID)
				if err != nil {
					return err
				}
				current.Progress++
				return s.store.Update(ctx, current, current.Version)
			})
		}()
	}
	wg.Wait()

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(10+workers, got.Progress, "read-modify-write inside the tx never loses an increment")
	s.Equal(int64(1+workers), got.Version)
}

func (s *InMemoryStoreSuite) TestRunInTxHonorsCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err := s.store.RunInTx(ctx, uuid.New(), func(context.Context) error {
		s.Fail("fn must not run on a dead context")
		return nil
	})
	s.ErrorIs(err, context.Canceled)
}
