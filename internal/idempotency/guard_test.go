package idempotency

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"taxdesk/pkg/platform/sentinel"
)

type InMemoryGuardSuite struct {
	suite.Suite
	ctx   context.Context
	guard *InMemoryGuard
}

func TestInMemoryGuardSuite(t *testing.T) {
	suite.Run(t, new(InMemoryGuardSuite))
}

func (s *InMemoryGuardSuite) SetupTest() {
	s.ctx = context.Background()
	s.guard = NewInMemoryGuard()
}

func (s *InMemoryGuardSuite) TestReserveClaimsKey() {
	filingID := uuid.New()

	existing, err := s.guard.Reserve(s.ctx, "key-1", filingID)
	s.Require().NoError(err)
	s.Nil(existing)

	outcome, err := s.guard.Get(s.ctx, "key-1")
	s.Require().NoError(err)
	s.Equal(filingID, outcome.FilingID)
	s.Equal(StatusPending, outcome.Status)
	s.False(outcome.RecordedAt.IsZero())
}

func (s *InMemoryGuardSuite) TestSecondReserveSurfacesFirstOutcome() {
	filingID := uuid.New()

	_, err := s.guard.Reserve(s.ctx, "key-1", filingID)
	s.Require().NoError(err)

	existing, err := s.guard.Reserve(s.ctx, "key-1", uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	s.Require().NotNil(existing)
	s.Equal(filingID, existing.FilingID, "loser sees the winner's claim")
	s.Equal(StatusPending, existing.Status)
}

func (s *InMemoryGuardSuite) TestRecordOverwritesPending() {
	filingID := uuid.New()
	_, err := s.guard.Reserve(s.ctx, "key-1", filingID)
	s.Require().NoError(err)

	s.Require().NoError(s.guard.Record(s.ctx, "key-1", Outcome{
		FilingID:      filingID,
		Status:        StatusSucceeded,
		CorrelationID: "ERI-42",
		AckNumber:     "ACK-123456",
	}))

	outcome, err := s.guard.Get(s.ctx, "key-1")
	s.Require().NoError(err)
	s.Equal(StatusSucceeded, outcome.Status)
	s.Equal("ACK-123456", outcome.AckNumber)
	s.True(outcome.Terminal())
}

func (s *InMemoryGuardSuite) TestReleaseReopensKey() {
	filingID := uuid.New()
	_, err := s.guard.Reserve(s.ctx, "key-1", filingID)
	s.Require().NoError(err)

	s.Require().NoError(s.guard.Release(s.ctx, "key-1"))
	_, err = s.guard.Get(s.ctx, "key-1")
	s.ErrorIs(err, sentinel.ErrNotFound)

	existing, err := s.guard.Reserve(s.ctx, "key-1", filingID)
	s.Require().NoError(err)
	s.Nil(existing, "released key is claimable again")
}

func (s *InMemoryGuardSuite) TestGetUnknownKey() {
	_, err := s.guard.Get(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryGuardSuite) TestConcurrentReserveSingleWinner() {
	const racers = 32
	var wg sync.WaitGroup
	wins := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			existing, err := s.guard.Reserve(s.ctx, "key-race", uuid.New())
			wins[i] = err == nil && existing == nil
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	s.Equal(1, winners)
}
