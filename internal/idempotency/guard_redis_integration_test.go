//go:build integration

package idempotency

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"taxdesk/pkg/platform/sentinel"
	"taxdesk/pkg/testutil/containers"
)

type RedisGuardSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	guard *RedisGuard
}

func TestRedisGuardSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisGuardSuite))
}

func (s *RedisGuardSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	s.guard = NewRedisGuard(s.redis.Client)
}

func (s *RedisGuardSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisGuardSuite) TestReserveRoundTrip() {
	filingID := uuid.New()

	existing, err := s.guard.Reserve(s.ctx, "key-1", filingID)
	s.Require().NoError(err)
	s.Nil(existing)

	existing, err = s.guard.Reserve(s.ctx, "key-1", uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	s.Require().NotNil(existing)
	s.Equal(filingID, existing.FilingID)
	s.Equal(StatusPending, existing.Status)
}

func (s *RedisGuardSuite) TestRecordedOutcomeSurvivesReconnect() {
	filingID := uuid.New()
	_, err := s.guard.Reserve(s.ctx, "key-2", filingID)
	s.Require().NoError(err)

	s.Require().NoError(s.guard.Record(s.ctx, "key-2", Outcome{
		FilingID:      filingID,
		Status:        StatusFailed,
		CorrelationID: "ERI-77",
		Reason:        "GATEWAY_UNAVAILABLE",
	}))

	outcome, err := s.guard.Get(s.ctx, "key-2")
	s.Require().NoError(err)
	s.Equal(StatusFailed, outcome.Status)
	s.Equal("ERI-77", outcome.CorrelationID)
	s.Equal("GATEWAY_UNAVAILABLE", outcome.Reason)
}

func (s *RedisGuardSuite) TestReleaseReopensKey() {
	filingID := uuid.New()
	_, err := s.guard.Reserve(s.ctx, "key-3", filingID)
	s.Require().NoError(err)

	s.Require().NoError(s.guard.Release(s.ctx, "key-3"))

	existing, err := s.guard.Reserve(s.ctx, "key-3", filingID)
	s.Require().NoError(err)
	s.Nil(existing, "released key is claimable again")
}

func (s *RedisGuardSuite) TestGetUnknownKey() {
	_, err := s.guard.Get(s.ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisGuardSuite) TestConcurrentReserveSingleWinner() {
	const racers = 16
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
	s.Equal(1, winners, "SETNX admits exactly one writer")
}
