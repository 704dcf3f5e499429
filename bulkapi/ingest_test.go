package bulkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIngestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     IngestConfig
		wantErr string
	}{
		{
			name: "valid insert",
			cfg:  IngestConfig{Object: "Branch__c", Operation: OpInsert},
		},
		{
			name: "valid upsert",
			cfg:  IngestConfig{Object: "Branch__c", Operation: OpUpsert, ExternalIDField: "BranchCode__c"},
		},
		{
			name:    "missing object",
			cfg:     IngestConfig{Operation: OpInsert},
			wantErr: "missing object name",
		},
		{
			name:    "invalid operation",
			cfg:     IngestConfig{Object: "Branch__c", Operation: "merge"},
			wantErr: `invalid operation "merge"`,
		},
		{
			name:    "query operation",
			cfg:     IngestConfig{Object: "Branch__c", Operation: OpQuery},
			wantErr: `operation "query" is not a load operation`,
		},
		{
			name:    "upsert without external id",
			cfg:     IngestConfig{Object: "Branch__c", Operation: OpUpsert},
			wantErr: "upsert requires an external ID field",
		},
		{
			name:    "external id on insert",
			cfg:     IngestConfig{Object: "Branch__c", Operation: OpInsert, ExternalIDField: "BranchCode__c"},
			wantErr: "external ID field is only valid for upsert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err = tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestIngestLifecycle(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var uploaded []byte
	var polls int

	mux := http.NewServeMux()
	handleMethod(mux, "POST "+apiPrefix+"/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		var body createIngestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Branch__c", body.Object)
		require.Equal(t, "upsert", body.Operation)
		require.Equal(t, "BranchCode__c", body.ExternalIDField)
		require.Equal(t, "LF", body.LineEnding)
		require.Equal(t, "COMMA", body.ColumnDelimiter)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"750A1","operation":"upsert","object":"Branch__c","state":"Open"}`))
	})
	handleMethod(mux, "PUT "+apiPrefix+"/jobs/ingest/750A1/batches", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		uploaded = raw
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	handleMethod(mux, "PATCH "+apiPrefix+"/jobs/ingest/750A1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "UploadComplete", body["state"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"750A1","state":"UploadComplete"}`))
	})
	handleMethod(mux, "GET "+apiPrefix+"/jobs/ingest/750A1", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		var n = polls
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			w.Write([]byte(`{"id":"750A1","state":"InProgress"}`))
			return
		}
		w.Write([]byte(`{"id":"750A1","state":"JobComplete","numberRecordsProcessed":3,"numberRecordsFailed":1}`))
	})
	handleMethod(mux, "GET "+apiPrefix+"/jobs/ingest/750A1/successfulResults", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, "\"sf__Id\",\"sf__Created\",\"BranchCode__c\",\"Name\"\n"+
			"\"a01A\",\"true\",\"B001\",\"Main\"\n"+
			"\"a01B\",\"false\",\"B002\",\"Annex\"\n")
	})
	handleMethod(mux, "GET "+apiPrefix+"/jobs/ingest/750A1/failedResults", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, "\"sf__Id\",\"sf__Error\",\"BranchCode__c\",\"Name\"\n"+
			"\"\",\"DUPLICATE_VALUE:duplicate value found\",\"B003\",\"Copy\"\n")
	})

	client := newTestClient(t, mux)

	job, err := client.CreateIngestJob(context.Background(), IngestConfig{
		Object:          "Branch__c",
		Operation:       OpUpsert,
		ExternalIDField: "BranchCode__c",
	})
	require.NoError(t, err)
	require.Equal(t, StateOpen, job.State)

	var batch = []byte("BranchCode__c,Name\nB001,Main\nB002,Annex\nB003,Copy\n")
	require.NoError(t, client.UploadBatch(context.Background(), job, batch))
	require.Equal(t, batch, uploaded)

	require.NoError(t, client.CloseJob(context.Background(), job))
	require.Equal(t, StateUploadComplete, job.State)

	state, err := client.PollUntilDone(context.Background(), job, testPolicy, time.Second)
	require.NoError(t, err)
	require.Equal(t, StateJobComplete, state)
	require.Equal(t, int64(3), job.RecordsProcessed)
	require.Equal(t, int64(1), job.RecordsFailed)

	report, err := client.Outcomes(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 2)
	require.Len(t, report.Failed, 1)

	require.Equal(t, "a01A", report.Succeeded[0].ID)
	require.True(t, report.Succeeded[0].Created)
	require.False(t, report.Succeeded[1].Created)
	require.Equal(t, "B001", report.Succeeded[0].Fields["BranchCode__c"])

	require.Equal(t, "DUPLICATE_VALUE", report.Failed[0].Code)
	require.Equal(t, "duplicate value found", report.Failed[0].Message)
	require.False(t, report.Failed[0].Success)
}

func TestUploadBatchRequiresOpenJob(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NewServeMux())
	var job = &BulkJob{ID: "750A1", Kind: KindIngest, State: StateUploadComplete}

	var stateErr *StateError
	require.ErrorAs(t, client.UploadBatch(context.Background(), job, []byte("Id\n")), &stateErr)
	require.Equal(t, StateUploadComplete, stateErr.State)
}

func TestCloseJobIdempotent(t *testing.T) {
	t.Parallel()

	// No server routes: closing an already closed job must not hit the API.
	client := newTestClient(t, http.NewServeMux())
	var job = &BulkJob{ID: "750A1", Kind: KindIngest, State: StateUploadComplete}
	require.NoError(t, client.CloseJob(context.Background(), job))

	var done = &BulkJob{ID: "750A2", Kind: KindIngest, State: StateJobComplete}
	var stateErr *StateError
	require.ErrorAs(t, client.CloseJob(context.Background(), done), &stateErr)
}

func TestOutcomesConsistencyCheck(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	handleMethod(mux, "GET "+apiPrefix+"/jobs/ingest/750A1/successfulResults", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "\"sf__Id\",\"sf__Created\",\"Name\"\n\"a01A\",\"true\",\"Main\"\n")
	})
	handleMethod(mux, "GET "+apiPrefix+"/jobs/ingest/750A1/failedResults", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "\"sf__Id\",\"sf__Error\",\"Name\"\n")
	})

	client := newTestClient(t, mux)
	var job = &BulkJob{ID: "750A1", Kind: KindIngest, State: StateJobComplete, RecordsProcessed: 5}

	_, err := client.Outcomes(context.Background(), job)
	var consistencyErr *ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	require.Equal(t, int64(5), consistencyErr.Processed)
	require.Equal(t, int64(1), consistencyErr.Succeeded)
	require.Equal(t, int64(0), consistencyErr.Failed)
}

func TestParseOutcomesEmpty(t *testing.T) {
	t.Parallel()

	outcomes, err := ParseOutcomes(nil, true)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}
