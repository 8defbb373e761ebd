package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mail "github.com/wneessen/go-mail"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/logger"
)

type capturingMailer struct {
	to, subject, body string
	err               error
}

func (m *capturingMailer) Send(_ context.Context, to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func newTestService(store Store, mailer Mailer, now *time.Time) *Service {
	s := NewService(store, mailer, config.OTPConfig{
		TTL:            10 * time.Minute,
		MaxAttempts:    3,
		ResendCooldown: time.Minute,
	}, logger.Discard())
	s.now = func() time.Time { return *now }
	s.generate = func() (string, error) { return "123456", nil }
	return s
}

func TestGenerateCode(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestService_IssueAndVerify(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	mailer := &capturingMailer{}
	store := NewMemoryStore()
	svc := newTestService(store, mailer, &now)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "ravi@example.com", "Ravi"))
	assert.Equal(t, "ravi@example.com", mailer.to)
	assert.Contains(t, mailer.body, "123456")

	rec, err := store.Get(ctx, "ravi@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotContains(t, rec.CodeHash, "123456")
	assert.Equal(t, Hash("123456"), rec.CodeHash)

	assert.ErrorIs(t, svc.Verify(ctx, "ravi@example.com", "000000"), ErrInvalidCode)
	require.NoError(t, svc.Verify(ctx, "ravi@example.com", "123456"))

	// Consumed.
	assert.ErrorIs(t, svc.Verify(ctx, "ravi@example.com", "123456"), ErrCodeExpired)
}

func TestService_Cooldown(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(NewMemoryStore(), &capturingMailer{}, &now)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "a@example.com", "A"))
	err := svc.Issue(ctx, "a@example.com", "A")
	assert.ErrorIs(t, err, ErrCooldown)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, svc.Issue(ctx, "b@example.com", "B"))
}

func TestService_AttemptLimit(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(NewMemoryStore(), &capturingMailer{}, &now)
	ctx := context.Background()
	require.NoError(t, svc.Issue(ctx, "a@example.com", "A"))

	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "111111"), ErrInvalidCode)
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "222222"), ErrInvalidCode)
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "333333"), ErrTooManyAttempts)
	// The right code no longer works once locked.
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "123456"), ErrCodeExpired)
}

// slowStore widens the gap between reading the code and acting on it, the way
// a network round trip to Redis does.
type slowStore struct {
	*MemoryStore
	delay time.Duration
}

func (s slowStore) Get(ctx context.Context, email string) (*Record, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Get(ctx, email)
}

func TestService_AttemptLimitUnderConcurrency(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(slowStore{MemoryStore: NewMemoryStore(), delay: 5 * time.Millisecond}, &capturingMailer{}, &now)
	ctx := context.Background()
	require.NoError(t, svc.Issue(ctx, "a@example.com", "A"))

	var wg sync.WaitGroup
	var invalid atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(svc.Verify(ctx, "a@example.com", "000000"), ErrInvalidCode) {
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, invalid.Load(), int32(2), "only MaxAttempts-1 guesses may be answered as merely invalid")
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "123456"), ErrCodeExpired)
}

func TestService_ReissueResetsAttempts(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(NewMemoryStore(), &capturingMailer{}, &now)
	svc.cfg.ResendCooldown = 0
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "a@example.com", "A"))
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "111111"), ErrInvalidCode)
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "222222"), ErrInvalidCode)

	require.NoError(t, svc.Issue(ctx, "a@example.com", "A"))
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "333333"), ErrInvalidCode)
	require.NoError(t, svc.Verify(ctx, "a@example.com", "123456"))
}

func TestService_Expiry(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(NewMemoryStore(), &capturingMailer{}, &now)
	ctx := context.Background()
	require.NoError(t, svc.Issue(ctx, "a@example.com", "A"))

	now = now.Add(11 * time.Minute)
	assert.ErrorIs(t, svc.Verify(ctx, "a@example.com", "123456"), ErrCodeExpired)
}

func TestService_MailFailureDropsCode(t *testing.T) {
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	svc := newTestService(store, &capturingMailer{err: errors.New("relay refused")}, &now)
	ctx := context.Background()

	err := svc.Issue(ctx, "a@example.com", "A")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	rec, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()
	store := NewRedisStore(db)
	ctx := context.Background()

	rec := Record{CodeHash: Hash("123456"), ExpiresAt: time.Date(2030, 1, 1, 9, 10, 0, 0, time.UTC)}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("otp:code:ravi@example.com", raw, 10*time.Minute).SetVal("OK")
	mock.ExpectDel("otp:attempts:ravi@example.com").SetVal(1)
	mock.ExpectTxPipelineExec()
	require.NoError(t, store.Save(ctx, "Ravi@Example.com", rec, 10*time.Minute))

	mock.ExpectGet("otp:code:ravi@example.com").SetVal(string(raw))
	got, err := store.Get(ctx, "ravi@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.CodeHash, got.CodeHash)

	mock.ExpectGet("otp:code:missing@example.com").RedisNil()
	got, err = store.Get(ctx, "missing@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectIncr("otp:attempts:ravi@example.com").SetVal(1)
	mock.ExpectExpireNX("otp:attempts:ravi@example.com", 5*time.Minute).SetVal(true)
	n, err := store.IncrAttempts(ctx, "ravi@example.com", 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mock.ExpectIncr("otp:attempts:ravi@example.com").SetVal(2)
	mock.ExpectExpireNX("otp:attempts:ravi@example.com", 5*time.Minute).SetVal(false)
	n, err = store.IncrAttempts(ctx, "ravi@example.com", 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	mock.ExpectIncr("otp:attempts:ravi@example.com").SetErr(errors.New("connection reset"))
	_, err = store.IncrAttempts(ctx, "ravi@example.com", 5*time.Minute)
	assert.ErrorContains(t, err, "connection reset")

	mock.ExpectSetNX("otp:cooldown:ravi@example.com", 1, time.Minute).SetVal(true)
	ok, err := store.Acquire(ctx, "ravi@example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("otp:cooldown:ravi@example.com", 1, time.Minute).SetVal(false)
	ok, err = store.Acquire(ctx, "ravi@example.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectDel("otp:code:ravi@example.com").SetErr(errors.New("connection reset"))
	assert.ErrorContains(t, store.Delete(ctx, "ravi@example.com"), "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSMTPMailer(t *testing.T) {
	m, err := NewSMTPMailer(config.MailerConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", DefaultFrom: "no-reply@clinic.test"})
	require.NoError(t, err)

	var sent []*mail.Msg
	m.send = func(_ context.Context, msgs ...*mail.Msg) error {
		sent = append(sent, msgs...)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "ravi@example.com", "Code", "Your code is 123456"))
	require.Len(t, sent, 1)
	rcpts, err := sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ravi@example.com"}, rcpts)
	assert.Equal(t, []string{"Code"}, sent[0].GetGenHeader(mail.HeaderSubject))

	var raw bytes.Buffer
	_, err = sent[0].WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "no-reply@clinic.test")
	assert.Contains(t, raw.String(), "Your code is 123456")

	assert.Error(t, m.Send(context.Background(), "not an address", "Code", "x"))

	m.send = func(context.Context, ...*mail.Msg) error { return errors.New("relay refused") }
	assert.ErrorContains(t, m.Send(context.Background(), "ravi@example.com", "Code", "x"), "relay refused")
}

func TestNewMailer(t *testing.T) {
	m, err := NewMailer(config.MailerConfig{Transport: "log"}, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	_, err = NewMailer(config.MailerConfig{Transport: "smtp"}, logger.Discard())
	assert.Error(t, err)
	_, err = NewMailer(config.MailerConfig{Transport: "pigeon"}, logger.Discard())
	assert.Error(t, err)
}
