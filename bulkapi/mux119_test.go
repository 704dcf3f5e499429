package bulkapi

import (
	"net/http"
	"strings"
	"sync"
)

// handleMethod emulates the Go 1.22+ "METHOD /path" ServeMux patterns on the
// Go 1.21 mux: handlers registered for the same path are grouped and
// dispatched by request method, and a request with no handler for its method
// gets 405 Method Not Allowed, matching the Go 1.22 mux.
var methodRoutes = struct {
	sync.Mutex
	byMux map[*http.ServeMux]map[string]map[string]http.HandlerFunc
}{byMux: map[*http.ServeMux]map[string]map[string]http.HandlerFunc{}}

func handleMethod(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		mux.HandleFunc(pattern, h)
		return
	}

	methodRoutes.Lock()
	defer methodRoutes.Unlock()
	paths := methodRoutes.byMux[mux]
	if paths == nil {
		paths = map[string]map[string]http.HandlerFunc{}
		methodRoutes.byMux[mux] = paths
	}
	if paths[path] == nil {
		paths[path] = map[string]http.HandlerFunc{}
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			methodRoutes.Lock()
			handler := methodRoutes.byMux[mux][path][r.Method]
			methodRoutes.Unlock()
			if handler == nil {
				http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handler(w, r)
		})
	}
	paths[path][method] = h
}
