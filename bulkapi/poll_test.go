package bulkapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollUntilDoneReturnsFailureAsState(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	handleMethod(mux, "GET "+apiPrefix+"/jobs/ingest/750A1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"750A1","state":"Failed","numberRecordsProcessed":0}`)
	})

	client := newTestClient(t, mux)
	var job = &BulkJob{ID: "750A1", Kind: KindIngest, State: StateUploadComplete}

	state, err := client.PollUntilDone(context.Background(), job, testPolicy, time.Second)
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.Equal(t, StateFailed, job.State)
}

func TestPollUntilDoneTimeout(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var polls int

	mux := http.NewServeMux()
	handleMethod(mux, "GET "+apiPrefix+"/jobs/query/750Q1", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"750Q1","state":"InProgress"}`)
	})

	client := newTestClient(t, mux)
	var job = &BulkJob{ID: "750Q1", Kind: KindQuery, State: StateInProgress}

	_, err := client.PollUntilDone(context.Background(), job, testPolicy, 30*time.Millisecond)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "750Q1", timeoutErr.JobID)
	require.Equal(t, StateInProgress, timeoutErr.LastState)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, polls, 1)
}
