package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdesk-backend/internal/queue/backoff"
	"supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/queue/schema"
	"supportdesk-backend/internal/testutil"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (JobRepository, *testutil.Clock) {
	t.Helper()
	db := testutil.NewDB(t, &domain.Job{})
	v, err := schema.Default()
	require.NoError(t, err)
	clock := testutil.NewClock(epoch)
	repo := NewJobRepository(db, v,
		WithClock(clock.Now),
		WithBackoff(backoff.NewExponential(time.Second, 10*time.Second)),
	)
	return repo, clock
}

func TestEnqueueRejectsInvalidPayloads(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		enqueue func() (string, error)
	}{
		{"typed ai reply without mail", func() (string, error) {
			return repo.Enqueue(ctx, domain.AIReplyPayload{}, domain.EnqueueOptions{})
		}},
		{"nil payload", func() (string, error) {
			return repo.Enqueue(ctx, nil, domain.EnqueueOptions{})
		}},
		{"raw unknown type", func() (string, error) {
			return repo.EnqueueRaw(ctx, "send_fax", []byte(`{}`), domain.EnqueueOptions{})
		}},
		{"raw unknown field", func() (string, error) {
			return repo.EnqueueRaw(ctx, domain.JobTypeCallSync, []byte(`{"hours":3}`), domain.EnqueueOptions{})
		}},
		{"raw wrong field type", func() (string, error) {
			return repo.EnqueueRaw(ctx, domain.JobTypeReturnSync, []byte(`{"page_size":"big"}`), domain.EnqueueOptions{})
		}},
		{"negative max attempts", func() (string, error) {
			return repo.Enqueue(ctx, domain.CallSyncPayload{}, domain.EnqueueOptions{MaxAttempts: -1})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.enqueue()
			assert.Empty(t, id)
			var verr *domain.ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}

	stats, err := repo.Stats(ctx, epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Total, "rejected payloads must not write rows")
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.EnqueueRaw(ctx, domain.JobTypeAIReply, []byte(`{"mail_id":"m-1"}`), domain.EnqueueOptions{})
	require.NoError(t, err)

	job, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 4, job.MaxAttempts)
	assert.True(t, job.NotBefore.Equal(epoch))
	assert.Nil(t, job.LockOwner)

	missing, err := repo.Get(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClaimNextOrderingAndNotBefore(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	later := epoch.Add(time.Hour)
	delayed, err := repo.Enqueue(ctx, domain.MailFetchPayload{}, domain.EnqueueOptions{NotBefore: &later})
	require.NoError(t, err)
	clock.Advance(time.Second)
	first, err := repo.Enqueue(ctx, domain.ReturnSyncPayload{}, domain.EnqueueOptions{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := repo.Enqueue(ctx, domain.CallSyncPayload{}, domain.EnqueueOptions{})
	require.NoError(t, err)

	got, err := repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, got.ID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.LockOwner)
	assert.Equal(t, "w1", *got.LockOwner)

	// Type filter
	none, err := repo.ClaimNext(ctx, "w1", []domain.JobType{domain.JobTypeAIReply}, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	got, err = repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, got.ID)

	got, err = repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got, "delayed job must wait for not_before")

	clock.Advance(time.Hour)
	got, err = repo.ClaimNext(ctx, "w1", []domain.JobType{domain.JobTypeMailFetch}, 10*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, delayed, got.ID)
}

func TestClaimNextIsExclusiveUnderConcurrency(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := repo.Enqueue(ctx, domain.AIReplyPayload{MailID: fmt.Sprintf("m-%d", i)}, domain.EnqueueOptions{})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]string)
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		owner := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNext(ctx, owner, nil, time.Minute)
				if !assert.NoError(t, err) || job == nil {
					return
				}
				mu.Lock()
				prev, dup := claimed[job.ID]
				claimed[job.ID] = owner
				mu.Unlock()
				assert.False(t, dup, "job %s claimed by %s and %s", job.ID, prev, owner)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.CallSyncPayload{}, domain.EnqueueOptions{})
	require.NoError(t, err)

	job, err := repo.ClaimNext(ctx, "crashed", nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	none, err := repo.ClaimNext(ctx, "rescuer", nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "an unexpired lease is exclusive")

	clock.Advance(2 * time.Minute)
	job, err = repo.ClaimNext(ctx, "rescuer", nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.Attempts, "the crashed run counts as an attempt")
	assert.Equal(t, "rescuer", *job.LockOwner)

	assert.ErrorIs(t, repo.Complete(ctx, id, "crashed", nil), domain.ErrLeaseLost)
	require.NoError(t, repo.Complete(ctx, id, "rescuer", []byte(`{"upserted":3}`)))

	job, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Nil(t, job.LockOwner)
	assert.Nil(t, job.LockExpiresAt)
	assert.JSONEq(t, `{"upserted":3}`, string(job.Result))
}

func TestExpiredFinalLeaseGoesDead(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.CallSyncPayload{}, domain.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)

	_, err = repo.ClaimNext(ctx, "crashed", nil, time.Minute)
	require.NoError(t, err)

	buried, err := repo.BuryExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, buried, "a live lease is never buried")

	clock.Advance(2 * time.Minute)
	job, err := repo.ClaimNext(ctx, "rescuer", nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job, "a final attempt is not reclaimed")

	buried, err = repo.BuryExpired(ctx)
	require.NoError(t, err)
	require.Len(t, buried, 1)
	assert.Equal(t, id, buried[0].ID)
	assert.Equal(t, domain.JobStatusDead, buried[0].Status)

	job, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)

	buried, err = repo.BuryExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, buried, "a buried job is reported once")
}

func TestFailStoresValidUTF8(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.AIReplyPayload{MailID: "m-1"}, domain.EnqueueOptions{})
	require.NoError(t, err)
	_, err = repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)

	// 1 + 1500*2 bytes, so a byte cut at 2000 lands inside a rune
	cause := errors.New("x" + strings.Repeat("ş", 1500))
	status, err := repo.Fail(ctx, id, "w1", cause, true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailedRetryable, status)

	job, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.LastError)
	assert.True(t, utf8.ValidString(*job.LastError))
	assert.LessOrEqual(t, len(*job.LastError), 2000)
	assert.True(t, strings.HasPrefix(*job.LastError, "xşş"))
}

func TestFailRetriesWithBackoffThenDies(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.ReturnSyncPayload{}, domain.EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	_, err = repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)
	status, err := repo.Fail(ctx, id, "w1", errors.New("503 from provider"), true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailedRetryable, status)

	job, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.True(t, job.NotBefore.Equal(epoch.Add(time.Second)), "first retry waits the initial backoff")
	assert.Equal(t, "503 from provider", *job.LastError)
	assert.Nil(t, job.LockOwner)

	none, err := repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "retry is not claimable before not_before")

	clock.Advance(time.Second)
	job, err = repo.ClaimNext(ctx, "w2", nil, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	status, err = repo.Fail(ctx, id, "w2", errors.New("503 again"), true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, status)

	job, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.LessOrEqual(t, job.Attempts, job.MaxAttempts)

	// Terminal rows never move again
	clock.Advance(time.Hour)
	none, err = repo.ClaimNext(ctx, "w3", nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.ErrorIs(t, repo.Complete(ctx, id, "w2", nil), domain.ErrLeaseLost)
	_, err = repo.Fail(ctx, id, "w2", errors.New("late"), true)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
}

func TestPermanentFailureIsDeadImmediately(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.AIReplyPayload{MailID: "m-9"}, domain.EnqueueOptions{})
	require.NoError(t, err)
	_, err = repo.ClaimNext(ctx, "w1", nil, time.Minute)
	require.NoError(t, err)

	status, err := repo.Fail(ctx, id, "w1", domain.Permanent(errors.New("mail not found")), false)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, status)

	job, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)

	_, err = repo.Fail(ctx, "missing", "w1", errors.New("x"), true)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStatsAndCountActive(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, domain.MailFetchPayload{}, domain.EnqueueOptions{})
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, domain.CallSyncPayload{}, domain.EnqueueOptions{})
	require.NoError(t, err)
	doneID, err := repo.Enqueue(ctx, domain.CallSyncPayload{}, domain.EnqueueOptions{})
	require.NoError(t, err)

	// Claim order follows created_at; claim until the third job is ours
	for {
		job, err := repo.ClaimNext(ctx, "w1", nil, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		if job.ID == doneID {
			break
		}
	}
	require.NoError(t, repo.Complete(ctx, doneID, "w1", nil))

	active, err := repo.CountActive(ctx, domain.JobTypeCallSync)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	active, err = repo.CountActive(ctx, domain.JobTypeReturnSync)
	require.NoError(t, err)
	assert.Zero(t, active)

	stats, err := repo.Stats(ctx, epoch.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByType[domain.JobTypeCallSync])
	assert.Equal(t, int64(1), stats.ByType[domain.JobTypeMailFetch])
	assert.Equal(t, int64(1), stats.ByStatus[domain.JobStatusSucceeded])
	assert.Equal(t, int64(2), stats.ByStatus[domain.JobStatusProcessing])

	stats, err = repo.Stats(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}
