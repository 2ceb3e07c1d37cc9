package chi

import (
	"context"
	"io"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/usecase/dispatch"
)

const testSecret = "cron-secret"

// stubDispatcher returns canned values per method. Unset funcs panic so a
// test cannot silently hit the wrong endpoint.
type stubDispatcher struct {
	dispatchFn   func(ctx context.Context) (dispatch.Result, error)
	statsFn      func(ctx context.Context) (dispatch.QueueStats, error)
	registerFn   func(ctx context.Context, filename, sourceURL, subjectID string) (domain.Document, domain.Task, error)
	deleteFn     func(ctx context.Context, documentID string) error
	taskStatusFn func(ctx context.Context, taskID string) (dispatch.TaskView, error)
	reprocessFn  func(ctx context.Context, taskID string) (domain.Task, error)
}

func (s *stubDispatcher) Dispatch(ctx context.Context) (dispatch.Result, error) {
	return s.dispatchFn(ctx)
}

func (s *stubDispatcher) Stats(ctx context.Context) (dispatch.QueueStats, error) {
	return s.statsFn(ctx)
}

func (s *stubDispatcher) RegisterDocument(
	ctx context.Context, filename, sourceURL, subjectID string,
) (domain.Document, domain.Task, error) {
	return s.registerFn(ctx, filename, sourceURL, subjectID)
}

func (s *stubDispatcher) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteFn(ctx, documentID)
}

func (s *stubDispatcher) TaskStatus(ctx context.Context, taskID string) (dispatch.TaskView, error) {
	return s.taskStatusFn(ctx, taskID)
}

func (s *stubDispatcher) Reprocess(ctx context.Context, taskID string) (domain.Task, error) {
	return s.reprocessFn(ctx, taskID)
}

type stubAnswerer struct {
	answerFn func(ctx context.Context, subjectID string, messages []domain.ChatMessage, w io.Writer) error
}

func (s *stubAnswerer) Answer(
	ctx context.Context, subjectID string, messages []domain.ChatMessage, w io.Writer,
) error {
	return s.answerFn(ctx, subjectID, messages, w)
}

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(context.Context) error { return s.err }

func newTestServer(d Dispatcher, a Answerer, p Pinger) *httptest.Server {
	if p == nil {
		p = &stubPinger{}
	}
	srv := NewServer(d, a, p, zap.NewNop())
	r := chi.NewRouter()
	srv.Routes(r, testSecret)
	return httptest.NewServer(r)
}
