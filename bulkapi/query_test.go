package bulkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, QueryConfig{Query: "SELECT Id FROM Branch__c"}.Validate())
	require.NoError(t, QueryConfig{Query: "SELECT Id FROM Branch__c", Operation: OpQueryAll}.Validate())
	require.Error(t, QueryConfig{}.Validate())
	require.Error(t, QueryConfig{Query: "SELECT Id FROM Branch__c", Operation: OpInsert}.Validate())
	require.Error(t, QueryConfig{Query: "SELECT Id FROM Branch__c", PKChunkSize: -1}.Validate())
}

func TestCreateQueryJobChunked(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	handleMethod(mux, "POST "+apiPrefix+"/jobs/query", func(w http.ResponseWriter, r *http.Request) {
		var body createQueryBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "query", body.Operation)
		require.Equal(t, "chunkSize=100000", body.PKChunking)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"750Q1","operation":"query","state":"InProgress","childJobIds":["750C1","750C2","750C3"]}`))
	})

	job, err := newTestClient(t, mux).CreateQueryJob(context.Background(), QueryConfig{
		Query:       "SELECT Id, Name FROM Branch__c",
		PKChunkSize: 100000,
	})
	require.NoError(t, err)
	require.Equal(t, KindQuery, job.Kind)
	require.Equal(t, []string{"750C1", "750C2", "750C3"}, job.ChildJobIDs)
}

// pagedResults serves a sequence of result pages keyed by locator, chaining
// them with the Sforce-Locator header the way the service does.
func pagedResults(t *testing.T, mux *http.ServeMux, jobID string, pages []string, rowsPerPage int) {
	t.Helper()

	handleMethod(mux, "GET "+apiPrefix+"/jobs/query/"+jobID+"/results", func(w http.ResponseWriter, r *http.Request) {
		var page = 0
		if loc := r.URL.Query().Get("locator"); loc != "" {
			fmt.Sscanf(loc, "p%d", &page)
		}
		require.Less(t, page, len(pages))

		var next = "null"
		if page+1 < len(pages) {
			next = fmt.Sprintf("p%d", page+1)
		}
		w.Header().Set("Sforce-Locator", next)
		w.Header().Set("Sforce-NumberOfRecords", fmt.Sprint(rowsPerPage))
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, pages[page])
	})
}

func TestExportMergesPages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		pages []string
		want  string
	}{
		{
			name:  "single page",
			pages: []string{"\"Id\",\"Name\"\n\"001A\",\"Main\"\n"},
			want:  "\"Id\",\"Name\"\n\"001A\",\"Main\"\n",
		},
		{
			name: "two pages",
			pages: []string{
				"\"Id\",\"Name\"\n\"001A\",\"Main\"\n",
				"\"Id\",\"Name\"\n\"001B\",\"Annex\"\n",
			},
			want: "\"Id\",\"Name\"\n\"001A\",\"Main\"\n\"001B\",\"Annex\"\n",
		},
		{
			name: "five pages keep one header",
			pages: []string{
				"\"Id\"\n\"001A\"\n",
				"\"Id\"\n\"001B\"\n",
				"\"Id\"\n\"001C\"\n",
				"\"Id\"\n\"001D\"\n",
				"\"Id\"\n\"001E\"\n",
			},
			want: "\"Id\"\n\"001A\"\n\"001B\"\n\"001C\"\n\"001D\"\n\"001E\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			pagedResults(t, mux, "750Q1", tt.pages, 1)

			client := newTestClient(t, mux)
			var job = &BulkJob{ID: "750Q1", Kind: KindQuery, State: StateJobComplete}

			var out bytes.Buffer
			stats, err := client.Export(context.Background(), job, &out, 0)
			require.NoError(t, err)
			require.Equal(t, tt.want, out.String())
			require.Equal(t, len(tt.pages), stats.Pages)
			require.Equal(t, len(tt.pages), stats.Rows)
		})
	}
}

func TestExportManyRows(t *testing.T) {
	t.Parallel()

	// Three pages of 100 rows each must merge to 300 data rows and one header.
	var pages []string
	var n int
	for p := 0; p < 3; p++ {
		var page = "\"Id\"\n"
		for i := 0; i < 100; i++ {
			page += fmt.Sprintf("\"001%04d\"\n", n)
			n++
		}
		pages = append(pages, page)
	}

	mux := http.NewServeMux()
	pagedResults(t, mux, "750Q1", pages, 100)

	client := newTestClient(t, mux)
	var job = &BulkJob{ID: "750Q1", Kind: KindQuery, State: StateJobComplete}

	var out bytes.Buffer
	stats, err := client.Export(context.Background(), job, &out, 100)
	require.NoError(t, err)
	require.Equal(t, 300, stats.Rows)
	require.Equal(t, 301, bytes.Count(out.Bytes(), []byte("\n")))
	require.Equal(t, 1, bytes.Count(out.Bytes(), []byte("\"Id\"\n")))
}

func TestResultsPageRequiresCompleteJob(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NewServeMux())
	var job = &BulkJob{ID: "750Q1", Kind: KindQuery, State: StateInProgress}

	var stateErr *StateError
	_, err := client.ResultsPage(context.Background(), job, "", 0)
	require.ErrorAs(t, err, &stateErr)
}
