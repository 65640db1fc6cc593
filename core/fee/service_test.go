package fee_test

import (
	"bytes"
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/user"
	cachesvc "github.com/trezcool/eduro/services/cache"
	emailsvc "github.com/trezcool/eduro/services/email"
	logsvc "github.com/trezcool/eduro/services/logger"
	inmemdb "github.com/trezcool/eduro/storage/database/inmem"
	"github.com/trezcool/eduro/tests"
)

var (
	conf   = core.NewTestConfig()
	today  = time.Date(2026, time.October, 15, 10, 30, 0, 0, time.UTC)
	number = regexp.MustCompile(`^RCP-202610-[0-9A-F]{8}$`)
)

// duplicatesRepo reports the first n receipt numbers as taken.
type duplicatesRepo struct {
	fee.Repository
	n int
}

func (r *duplicatesRepo) CreateReceipt(ctx context.Context, rcpt fee.Receipt) (fee.Receipt, error) {
	if r.n > 0 {
		r.n--
		return fee.Receipt{}, fee.ErrDuplicateNumber
	}
	return r.Repository.CreateReceipt(ctx, rcpt)
}

// failingRepo fails the deletions of its Repository.
type failingRepo struct {
	fee.Repository
	err error
}

func (r failingRepo) DeleteReceipt(context.Context, string) error { return r.err }

// failingCache fails the updates of its Cache.
type failingCache struct {
	core.Cache
	err error
}

func (c failingCache) Update(context.Context, string, interface{}, func() (interface{}, bool)) (bool, error) {
	return false, c.err
}

type feeEnv struct {
	repo    fee.Repository
	svc     fee.Service
	cache   core.Cache
	mailSvc *emailsvc.ConsoleServiceMock
	users   user.Service
	alice   user.User
	teacher user.User
}

func setup(t *testing.T) *feeEnv {
	t.Helper()
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return today }
	t.Cleanup(func() { core.NowFunc = orig })

	logger := logsvc.NopLogger{}
	core.ParseEmailTemplates(logger, true)

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	env := &feeEnv{
		repo:    inmemdb.NewReceiptRepository(db),
		cache:   cachesvc.NewMemoryCache(),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
		alice:   testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleStudent}, true),
		teacher: testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true),
	}
	env.users = user.NewServiceMock(usrRepo, env.mailSvc, conf)
	env.svc = fee.NewServiceMock(env.repo, env.users, env.cache, env.mailSvc, conf, logger)
	return env
}

func (env *feeEnv) issue(t *testing.T, amount int64, due time.Time) fee.Receipt {
	t.Helper()
	r, err := env.svc.Issue(context.Background(), fee.NewReceipt{
		BranchID:    "b1",
		StudentID:   env.alice.ID,
		Description: "Tuition",
		Amount:      amount,
		Currency:    "USD",
		DueDate:     core.NewDate(due),
		IssuedBy:    "m1",
	})
	require.NoError(t, err)
	return r
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{fee.StatusPending, fee.StatusPaid, true},
		{fee.StatusPending, fee.StatusCancelled, true},
		{fee.StatusPending, fee.StatusRefunded, false},
		{fee.StatusPaid, fee.StatusRefunded, true},
		{fee.StatusPaid, fee.StatusCancelled, false},
		{fee.StatusPaid, fee.StatusPaid, false},
		{fee.StatusCancelled, fee.StatusPaid, false},
		{fee.StatusRefunded, fee.StatusPaid, false},
	}
	for _, tc := range tests {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			assert.Equal(t, tc.want, fee.CanTransition(tc.from, tc.to))
		})
	}
}

func TestReceipt_IsOverdue(t *testing.T) {
	yesterday := core.Day(today).AddDate(0, 0, -1)
	tests := []struct {
		name string
		rcpt fee.Receipt
		want bool
	}{
		{name: "due yesterday", rcpt: fee.Receipt{Status: fee.StatusPending, DueDate: yesterday}, want: true},
		{name: "due today", rcpt: fee.Receipt{Status: fee.StatusPending, DueDate: core.Day(today)}},
		{name: "no due date", rcpt: fee.Receipt{Status: fee.StatusPending}},
		{name: "paid", rcpt: fee.Receipt{Status: fee.StatusPaid, DueDate: yesterday}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rcpt.IsOverdue(today))
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1500.50", fee.FormatAmount(150050))
	assert.Equal(t, "0.05", fee.FormatAmount(5))
	assert.Equal(t, "-12.00", fee.FormatAmount(-1200))
}

func TestTally(t *testing.T) {
	yesterday := core.Day(today).AddDate(0, 0, -1)
	receipts := []fee.Receipt{
		{Currency: "USD", Status: fee.StatusPaid, Amount: 100},
		{Currency: "USD", Status: fee.StatusPending, Amount: 50, DueDate: yesterday},
		{Currency: "USD", Status: fee.StatusPending, Amount: 25},
		{Currency: "CDF", Status: fee.StatusRefunded, Amount: 1000},
		{Currency: "CDF", Status: fee.StatusCancelled, Amount: 7},
	}
	assert.Equal(t, []fee.Totals{
		{Currency: "CDF", Refunded: 1000},
		{Currency: "USD", Collected: 100, Outstanding: 75, Overdue: 50},
	}, fee.Tally(receipts, today))
	assert.Empty(t, fee.Tally(nil, today))
}

func TestService_Issue(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	r := env.issue(t, 150050, today.Add(48*time.Hour))
	assert.Regexp(t, number, r.Number)
	assert.Equal(t, fee.StatusPending, r.Status)
	assert.Equal(t, core.Day(today).AddDate(0, 0, 2), r.DueDate)
	assert.Equal(t, "m1", r.IssuedBy)

	got, err := env.svc.GetByNumber(ctx, " "+r.Number+" ")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	t.Run("not a student", func(t *testing.T) {
		for _, id := range []string{env.teacher.ID, "nope"} {
			_, err := env.svc.Issue(ctx, fee.NewReceipt{BranchID: "b1", StudentID: id, Amount: 1, Currency: "USD"})
			assert.Equal(t, fee.ErrNotAStudent, err)
		}
	})
	t.Run("number taken", func(t *testing.T) {
		nr := fee.NewReceipt{BranchID: "b1", StudentID: env.alice.ID, Amount: 1, Currency: "USD"}

		svc := fee.NewServiceMock(&duplicatesRepo{Repository: env.repo, n: 2}, env.users, env.cache, env.mailSvc, conf, logsvc.NopLogger{})
		_, err := svc.Issue(ctx, nr)
		require.NoError(t, err)

		svc = fee.NewServiceMock(&duplicatesRepo{Repository: env.repo, n: 3}, env.users, env.cache, env.mailSvc, conf, logsvc.NopLogger{})
		_, err = svc.Issue(ctx, nr)
		assert.Equal(t, fee.ErrDuplicateNumber, errors.Cause(err))
	})
}

func TestService_lifecycle(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	r := env.issue(t, 1000, today)

	amount := int64(1200)
	r, err := env.svc.Update(ctx, r.ID, fee.UpdateReceipt{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, amount, r.Amount)

	paidAt := today.Add(-time.Hour)
	r, err = env.svc.RecordPayment(ctx, r.ID, fee.Payment{Method: fee.MethodCash, Reference: "R-1", PaidAt: paidAt})
	require.NoError(t, err)
	assert.Equal(t, fee.StatusPaid, r.Status)
	assert.Equal(t, paidAt, r.PaidAt)

	sent := env.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Payment Receipt "+r.Number, sent[0].Subject)
	assert.Equal(t, env.alice.Email, sent[0].To[0].Address)
	assert.True(t, sent[0].HasAttachments())

	_, err = env.svc.RecordPayment(ctx, r.ID, fee.Payment{Method: fee.MethodCash})
	assert.Equal(t, fee.ErrInvalidTransition, err)
	_, err = env.svc.Update(ctx, r.ID, fee.UpdateReceipt{Amount: &amount})
	assert.Equal(t, fee.ErrNotEditable, err)
	_, err = env.svc.Cancel(ctx, r.ID)
	assert.Equal(t, fee.ErrInvalidTransition, err)
	assert.Equal(t, fee.ErrNotDeletable, env.svc.Delete(ctx, r.ID))

	r, err = env.svc.Refund(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusRefunded, r.Status)
	assert.Equal(t, fee.ErrNotDeletable, env.svc.Delete(ctx, r.ID))

	pending := env.issue(t, 500, today)
	_, err = env.svc.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	require.NoError(t, env.svc.Delete(ctx, pending.ID))
	_, err = env.svc.Get(ctx, pending.ID)
	assert.Equal(t, fee.ErrNotFound, errors.Cause(err))
}

func TestService_cache(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	first := env.issue(t, 1000, today)

	receipts, err := env.svc.List(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	second := env.issue(t, 2000, today.AddDate(0, 0, -3))
	_, err = env.svc.RecordPayment(ctx, first.ID, fee.Payment{Method: fee.MethodCard})
	require.NoError(t, err)

	var cached []fee.Receipt
	found, err := env.cache.Get(ctx, fee.CacheKey("b1"), &cached)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, cached, 2)

	totals, err := env.svc.Totals(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []fee.Totals{{Currency: "USD", Collected: 1000, Outstanding: 2000, Overdue: 2000}}, totals)

	require.NoError(t, env.svc.Delete(ctx, second.ID))
	receipts, err = env.svc.List(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, first.ID, receipts[0].ID)
}

func TestService_cacheConcurrentIssues(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	_, err := env.svc.List(ctx, "b1") // warm
	require.NoError(t, err)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := env.svc.Issue(ctx, fee.NewReceipt{
				BranchID:    "b1",
				StudentID:   env.alice.ID,
				Description: "Tuition",
				Amount:      amount,
				Currency:    "USD",
				DueDate:     core.NewDate(today),
			})
			assert.NoError(t, err)
		}(int64(100 * (i + 1)))
	}
	wg.Wait()

	var cached []fee.Receipt
	found, err := env.cache.Get(ctx, fee.CacheKey("b1"), &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, cached, n)
}

func TestService_cacheFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("failed delete leaves the cache untouched", func(t *testing.T) {
		env := setup(t)
		r := env.issue(t, 1000, today)
		_, err := env.svc.List(ctx, "b1")
		require.NoError(t, err)

		repoErr := errors.New("connection reset")
		svc := fee.NewServiceMock(failingRepo{Repository: env.repo, err: repoErr}, env.users, env.cache, env.mailSvc, conf, logsvc.NopLogger{})
		err = svc.Delete(ctx, r.ID)
		assert.Equal(t, repoErr, errors.Cause(err))

		var cached []fee.Receipt
		found, err := env.cache.Get(ctx, fee.CacheKey("b1"), &cached)
		require.NoError(t, err)
		require.True(t, found)
		require.Len(t, cached, 1)
		assert.Equal(t, r.ID, cached[0].ID)
	})
	t.Run("failed patch evicts the key", func(t *testing.T) {
		env := setup(t)
		first := env.issue(t, 1000, today)
		_, err := env.svc.List(ctx, "b1")
		require.NoError(t, err)

		broken := failingCache{Cache: env.cache, err: errors.New("cache down")}
		svc := fee.NewServiceMock(env.repo, env.users, broken, env.mailSvc, conf, logsvc.NopLogger{})
		_, err = svc.Cancel(ctx, first.ID)
		require.NoError(t, err, "cache failures do not fail writes")

		var cached []fee.Receipt
		found, err := env.cache.Get(ctx, fee.CacheKey("b1"), &cached)
		require.NoError(t, err)
		assert.False(t, found)

		receipts, err := env.svc.List(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, fee.StatusCancelled, receipts[0].Status)
	})
}

func TestService_QueryAndExport(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	env.issue(t, 150050, today.AddDate(0, 0, -1))
	env.issue(t, 100, today.AddDate(0, 0, 1))

	overdue, err := env.svc.Query(ctx, fee.Filter{BranchID: "b1", Overdue: true})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, int64(150050), overdue[0].Amount)

	var buf bytes.Buffer
	require.NoError(t, env.svc.Export(ctx, fee.Filter{BranchID: "b1", Overdue: true}, &buf))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	rows, err := f.GetRows("Receipts")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Number", rows[0][0])
	assert.Equal(t, "1500.50", rows[1][5])
	assert.Equal(t, "overdue", rows[1][7])
	assert.Equal(t, "2026-10-14", rows[1][8])
}

func TestService_QRCode(t *testing.T) {
	env := setup(t)
	png, err := env.svc.QRCode(fee.Receipt{Number: "RCP-202610-ABCDEF12"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
