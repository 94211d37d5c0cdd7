package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/models"
)

func backendReturning(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func testJob() *models.Job {
	return &models.Job{
		TaskType: models.TaskInference,
		Payload:  `{"doc":"a"}`,
		UserID:   "user-1",
	}
}

func TestExecuteSuccess(t *testing.T) {
	srv := backendReturning(http.StatusOK, `{"summary":"ok"}`)
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, time.Second)
	out := ex.Execute(context.Background(), testJob())

	if out.Kind != dispatch.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", out.Kind, out.Err)
	}
	if string(out.Result) != `{"summary":"ok"}` {
		t.Errorf("unexpected result: %s", out.Result)
	}
}

func TestExecuteClientErrorIsPermanent(t *testing.T) {
	srv := backendReturning(http.StatusUnprocessableEntity, `bad payload`)
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, time.Second)
	out := ex.Execute(context.Background(), testJob())

	if out.Kind != dispatch.OutcomePermanent {
		t.Errorf("4xx should be permanent, got %v", out.Kind)
	}
}

func TestExecuteServerErrorIsTransient(t *testing.T) {
	srv := backendReturning(http.StatusBadGateway, ``)
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, time.Second)
	out := ex.Execute(context.Background(), testJob())

	if out.Kind != dispatch.OutcomeTransient {
		t.Errorf("5xx should be transient, got %v", out.Kind)
	}
}

func TestExecuteNetworkErrorIsTransient(t *testing.T) {
	srv := backendReturning(http.StatusOK, `{}`)
	srv.Close() // nothing listening anymore

	ex := NewHTTPExecutor(srv.URL, time.Second)
	out := ex.Execute(context.Background(), testJob())

	if out.Kind != dispatch.OutcomeTransient {
		t.Errorf("connection failure should be transient, got %v", out.Kind)
	}
}

func TestComputeSynchronous(t *testing.T) {
	srv := backendReturning(http.StatusOK, `{"n":1}`)
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, time.Second)

	result, err := ex.Compute(context.Background(), []byte(`{"doc":"a"}`))
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if string(result) != `{"n":1}` {
		t.Errorf("unexpected result: %s", result)
	}
}

func TestComputeErrorOnBadStatus(t *testing.T) {
	srv := backendReturning(http.StatusInternalServerError, `oops`)
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, time.Second)

	if _, err := ex.Compute(context.Background(), []byte(`{}`)); err == nil {
		t.Error("non-2xx should surface as an error")
	}
}
