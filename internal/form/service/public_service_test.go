package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/runner"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"github.com/charrlodin/otter-form/internal/form/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAnswers() map[string]interface{} {
	return map[string]interface{}{
		"field_1": "Ada Lovelace",
		"field_2": "ada@example.com",
		"field_3": "Pro",
		"field_4": []interface{}{"Forms", "AI"},
		"field_5": float64(4),
		"unknown": "dropped",
	}
}

func TestPublicService_GetBySlug(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")

	view, err := env.svc.Public.GetBySlug(ctx, "feedback-aaaaaa", "")
	require.NoError(t, err)
	assert.False(t, view.IsLocked)
	require.NotNil(t, view.Schema)
	assert.Len(t, view.Schema.Fields, 5)

	_, err = env.svc.Public.GetBySlug(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublicService_PasswordGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")
	_, err := env.svc.Form.Update(ctx, testutil.DefaultUserID, "form-1", &UpdateFormRequest{Password: strPtr("s3cret")})
	require.NoError(t, err)

	view, err := env.svc.Public.GetBySlug(ctx, "feedback-aaaaaa", "")
	require.NoError(t, err)
	assert.True(t, view.IsLocked)
	assert.True(t, view.RequiresPassword)
	assert.Nil(t, view.Schema)

	view, err = env.svc.Public.GetBySlug(ctx, "feedback-aaaaaa", "wrong")
	require.NoError(t, err)
	assert.True(t, view.IsLocked)

	_, err = env.svc.Public.Unlock(ctx, "feedback-aaaaaa", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	view, err = env.svc.Public.Unlock(ctx, "feedback-aaaaaa", "s3cret")
	require.NoError(t, err)
	assert.False(t, view.IsLocked)
	assert.NotNil(t, view.Schema)

	_, err = env.svc.Public.Submit(ctx, "feedback-aaaaaa", &SubmitRequest{Answers: validAnswers()})
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, err = env.svc.Public.Submit(ctx, "feedback-aaaaaa", &SubmitRequest{Answers: validAnswers(), Password: "s3cret"})
	assert.NoError(t, err)
}

func TestPublicService_RecordView_Dedup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")

	require.NoError(t, env.svc.Public.RecordView(ctx, "feedback-aaaaaa", "visitor-a"))
	require.NoError(t, env.svc.Public.RecordView(ctx, "feedback-aaaaaa", "visitor-a"))
	require.NoError(t, env.svc.Public.RecordView(ctx, "feedback-aaaaaa", "visitor-b"))
	require.NoError(t, env.svc.Public.RecordStart(ctx, "feedback-aaaaaa", "visitor-a"))

	form, err := env.svc.Form.Get(ctx, testutil.DefaultUserID, "form-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), form.ViewCount)
	assert.Equal(t, int64(1), form.StartCount)

	// 去重窗口过期后重新计数
	env.mr.FastForward(2 * time.Hour)
	require.NoError(t, env.svc.Public.RecordView(ctx, "feedback-aaaaaa", "visitor-a"))
	form, err = env.svc.Form.Get(ctx, testutil.DefaultUserID, "form-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), form.ViewCount)

	assert.ErrorIs(t, env.svc.Public.RecordView(ctx, "missing", "visitor-a"), ErrNotFound)
}

func TestPublicService_RecordView_NoRedis(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")
	env.svc.Public.limiter = NewLimiter(nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.Public.RecordView(ctx, "feedback-aaaaaa", "visitor-a"))
	}
	form, err := env.svc.Form.Get(ctx, testutil.DefaultUserID, "form-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), form.ViewCount)
}

func TestPublicService_Submit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")
	events := env.subscribe(testutil.DefaultUserID)

	resp, err := env.svc.Public.Submit(ctx, "feedback-aaaaaa", &SubmitRequest{
		Answers:  validAnswers(),
		Metadata: map[string]interface{}{"user_agent": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "form-1", resp.FormID)
	assert.NotContains(t, resp.Answers, "unknown")
	assert.Equal(t, "Pro", resp.Answers["field_3"])

	form, err := env.svc.Form.Get(ctx, testutil.DefaultUserID, "form-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), form.SubmissionCount)

	ev := <-events.Events
	assert.Equal(t, sse.EventResponseCreated, ev.EventType)
	assert.Contains(t, ev.Data, resp.ID)
	env.svc.Public.WaitNotifications()
	assert.Equal(t, []string{"form-1/" + resp.ID}, env.notifier.calls)
}

// blockingNotifier 在 release 关闭前阻塞
type blockingNotifier struct {
	release chan struct{}
	done    chan error
}

func (n *blockingNotifier) NotifySubmission(ctx context.Context, _ *entity.Form, _ *entity.Response) error {
	<-n.release
	n.done <- ctx.Err()
	return nil
}

func TestPublicService_Submit_NotifiesInBackground(t *testing.T) {
	env := newTestEnv(t)
	notifier := &blockingNotifier{release: make(chan struct{}), done: make(chan error, 1)}
	env.svc.Public.notifier = notifier
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := env.svc.Public.Submit(ctx, "feedback-aaaaaa", &SubmitRequest{Answers: validAnswers()})
	require.NoError(t, err)

	// 请求结束后通知仍继续
	cancel()
	close(notifier.release)
	env.svc.Public.WaitNotifications()
	assert.NoError(t, <-notifier.done)
}

func TestPublicService_Submit_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")

	answers := validAnswers()
	delete(answers, "field_1")
	answers["field_2"] = "not-an-email"
	answers["field_5"] = float64(9)

	_, err := env.svc.Public.Submit(ctx, "feedback-aaaaaa", &SubmitRequest{Answers: answers})
	var verr *runner.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 3)
	assert.ErrorIs(t, verr.Fields[0], runner.ErrRequired)
	assert.ErrorIs(t, verr.Fields[1], runner.ErrInvalidEmail)
	assert.ErrorIs(t, verr.Fields[2], runner.ErrRatingRange)

	form, err := env.svc.Form.Get(ctx, testutil.DefaultUserID, "form-1")
	require.NoError(t, err)
	assert.Zero(t, form.SubmissionCount)
}

func TestPublicService_Submit_InactiveAndExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "closed-aaaaaa")
	env.seedForm(t, "form-2", testutil.DefaultUserID, "expired-bbbbbb")

	_, err := env.svc.Form.Update(ctx, testutil.DefaultUserID, "form-1", &UpdateFormRequest{IsActive: boolPtr(false)})
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	_, err = env.svc.Form.Update(ctx, testutil.DefaultUserID, "form-2", &UpdateFormRequest{ExpiresAt: &past})
	require.NoError(t, err)

	_, err = env.svc.Public.Submit(ctx, "closed-aaaaaa", &SubmitRequest{Answers: validAnswers()})
	assert.ErrorIs(t, err, ErrFormInactive)

	_, err = env.svc.Public.Submit(ctx, "expired-bbbbbb", &SubmitRequest{Answers: validAnswers()})
	assert.ErrorIs(t, err, ErrFormExpired)

	view, err := env.svc.Public.GetBySlug(ctx, "expired-bbbbbb", "")
	require.NoError(t, err)
	assert.True(t, view.IsExpired)

	_, err = env.svc.Public.Submit(ctx, "missing", &SubmitRequest{Answers: validAnswers()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadService_Upload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	schema := testutil.SampleSchema()
	schema.Fields = append(schema.Fields, entity.FormField{ID: "field_6", Label: "Resume", Type: entity.FieldFileUpload})
	testutil.SeedTestForm(t, env.db, "form-1", testutil.DefaultUserID, "jobs-aaaaaa", schema)

	_, err := env.svc.Upload.Upload(ctx, "jobs-aaaaaa", UploadInput{FieldID: "field_1", FileName: "a.txt", Size: 1, Reader: strings.NewReader("a")})
	assert.ErrorIs(t, err, ErrInvalidUpload)

	_, err = env.svc.Upload.Upload(ctx, "jobs-aaaaaa", UploadInput{FieldID: "field_6", FileName: "a.txt", Size: 2 << 20, Reader: strings.NewReader("a")})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	upload, err := env.svc.Upload.Upload(ctx, "jobs-aaaaaa", UploadInput{
		FieldID:     "field_6",
		FileName:    "../../etc/resume.pdf",
		ContentType: "application/pdf",
		Size:        5,
		Reader:      strings.NewReader("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "resume.pdf", upload.FileName)
	assert.Equal(t, "forms/form-1/field_6/"+upload.ID+"_resume.pdf", upload.StorageKey)

	answers := validAnswers()
	answers["field_6"] = upload.ID
	resp, err := env.svc.Public.Submit(ctx, "jobs-aaaaaa", &SubmitRequest{Answers: answers})
	require.NoError(t, err)

	var linked entity.FileUpload
	require.NoError(t, env.db.First(&linked, "id = ?", upload.ID).Error)
	require.NotNil(t, linked.ResponseID)
	assert.Equal(t, resp.ID, *linked.ResponseID)

	rc, meta, err := env.svc.Upload.Open(ctx, testutil.DefaultUserID, "form-1", upload.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "resume.pdf", meta.FileName)

	_, _, err = env.svc.Upload.Open(ctx, testutil.OtherUserID, "form-1", upload.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUploadService_NoStorage(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Upload.store = nil
	_, err := env.svc.Upload.Upload(context.Background(), "any", UploadInput{})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestPublicService_Submit_RejectsNonFiniteNumbers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	schema := testutil.SampleSchema()
	schema.Fields = append(schema.Fields, entity.FormField{ID: "field_6", Label: "Age", Type: entity.FieldNumber})
	testutil.SeedTestForm(t, env.db, "form-1", testutil.DefaultUserID, "ages-aaaaaa", schema)

	for _, v := range []string{"NaN", "Inf", "+Inf", "-Inf"} {
		answers := validAnswers()
		answers["field_6"] = v
		_, err := env.svc.Public.Submit(ctx, "ages-aaaaaa", &SubmitRequest{Answers: answers})
		var verr *runner.ValidationError
		require.True(t, errors.As(err, &verr), v)
		assert.ErrorIs(t, verr.Fields[0], runner.ErrInvalidNumber)
	}

	answers := validAnswers()
	answers["field_6"] = "31"
	_, err := env.svc.Public.Submit(ctx, "ages-aaaaaa", &SubmitRequest{Answers: answers})
	require.NoError(t, err)

	summary, err := env.svc.Stats.Summary(ctx, testutil.DefaultUserID, "form-1")
	require.NoError(t, err)
	age := summary.Fields[5]
	require.NotNil(t, age.Average)
	assert.Equal(t, 31.0, *age.Average)
	_, err = json.Marshal(summary)
	assert.NoError(t, err)
}

func TestPublicService_StoredNumbersReadBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedForm(t, "form-1", testutil.DefaultUserID, "feedback-aaaaaa")
	submitN(t, env, "feedback-aaaaaa", validAnswers())

	items, _, err := env.svc.Response.List(ctx, testutil.DefaultUserID, "form-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	n, ok := runner.ToNumber(items[0].Answers["field_5"])
	require.True(t, ok, "stored rating %T", items[0].Answers["field_5"])
	assert.Equal(t, 4.0, n)
	assert.Equal(t, "4", FormatAnswer(items[0].Answers["field_5"]))
}
